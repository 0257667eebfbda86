// internal/fetcher/ytdlp.go
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/D-7J/beast-downloader-bot/internal/domain/download"

	"go.uber.org/zap"
)

// YtDlp shells out to the yt-dlp binary. Probing uses --dump-json; the
// actual transfer writes into a per-job directory so cleanup is one rmdir.
type YtDlp struct {
	binary string
	dir    string
	logger *zap.Logger
}

func NewYtDlp(binary, dir string, logger *zap.Logger) *YtDlp {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YtDlp{binary: binary, dir: dir, logger: logger}
}

type probeInfo struct {
	Title          string  `json:"title"`
	Duration       float64 `json:"duration"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

func (y *YtDlp) Estimate(ctx context.Context, url string) (Estimate, error) {
	cmd := exec.CommandContext(ctx, y.binary, "--dump-json", "--no-playlist", "--no-download", url)
	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return UnknownEstimate(), fmt.Errorf("yt-dlp probe failed: %w", err)
	}

	var info probeInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		y.logger.Warn("unparseable yt-dlp probe output", zap.String("url", url), zap.Error(err))
		return UnknownEstimate(), nil
	}

	est := Estimate{
		SizeBytes:       download.SizeUnknown,
		DurationSeconds: download.DurationUnknown,
		Title:           info.Title,
	}
	if info.Filesize > 0 {
		est.SizeBytes = info.Filesize
	} else if info.FilesizeApprox > 0 {
		est.SizeBytes = info.FilesizeApprox
	}
	if info.Duration > 0 {
		est.DurationSeconds = int(info.Duration)
	}
	return est, nil
}

func (y *YtDlp) Fetch(ctx context.Context, job *download.Job) (Result, error) {
	jobDir := filepath.Join(y.dir, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create job dir: %w", err)
	}

	args := []string{"--no-playlist", "-o", filepath.Join(jobDir, "%(title)s.%(ext)s")}
	if job.Format != "" {
		args = append(args, "-f", job.Format)
	}
	args = append(args, job.URL)

	cmd := exec.CommandContext(ctx, y.binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		y.logger.Warn("yt-dlp fetch failed",
			zap.String("job_id", job.ID),
			zap.ByteString("output", lastLines(out, 512)),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("yt-dlp fetch failed: %w", err)
	}

	path, size, err := largestFile(jobDir)
	if err != nil {
		return Result{}, err
	}
	return Result{ActualBytes: size, LocalPath: path}, nil
}

func largestFile(dir string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, err
	}

	var best string
	var bestSize int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, e.Name())
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", 0, fmt.Errorf("yt-dlp produced no output file in %s", dir)
	}
	return best, bestSize, nil
}

func lastLines(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
