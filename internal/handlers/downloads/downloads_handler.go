// internal/handlers/downloads/downloads_handler.go
package downloads

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/admission"
	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	"github.com/D-7J/beast-downloader-bot/internal/lifecycle"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"
	"github.com/D-7J/beast-downloader-bot/internal/pkg/response"
	"github.com/D-7J/beast-downloader-bot/internal/queue"
	"github.com/D-7J/beast-downloader-bot/internal/store"
	"github.com/D-7J/beast-downloader-bot/internal/usage"

	"github.com/gin-gonic/gin"
)

type DownloadHandler struct {
	controller *admission.Controller
	life       *lifecycle.Service
	queue      *queue.PriorityQueue
	jobs       store.Jobs
	tracker    *usage.Tracker
}

func NewDownloadHandler(
	controller *admission.Controller,
	life *lifecycle.Service,
	q *queue.PriorityQueue,
	jobs store.Jobs,
	tracker *usage.Tracker,
) *DownloadHandler {
	return &DownloadHandler{
		controller: controller,
		life:       life,
		queue:      q,
		jobs:       jobs,
		tracker:    tracker,
	}
}

type submitRequest struct {
	UserID  int64            `json:"user_id" binding:"required"`
	Request download.Request `json:"request" binding:"required"`
}

// Submit evaluates and, if admitted, enqueues a download request.
// A denial is a 200 with granted=false: it is an expected outcome, not an
// error, and carries the reason plus current/limit for user messaging.
func (h *DownloadHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	adm, err := h.controller.Submit(c.Request.Context(), req.UserID, req.Request, time.Now())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, xerrors.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		response.Error(c, status, "admission failed", err)
		return
	}

	if !adm.Granted {
		response.Success(c, http.StatusOK, "download denied", adm)
		return
	}
	response.Success(c, http.StatusCreated, "download admitted", adm)
}

type jobView struct {
	*download.Job
	QueuePosition int `json:"queue_position,omitempty"`
}

// Get returns a job's state and, while queued, its 1-based queue position.
func (h *DownloadHandler) Get(c *gin.Context) {
	id := c.Param("id")

	job, err := h.jobs.Get(c.Request.Context(), id)
	if errors.Is(err, xerrors.ErrNotFound) {
		response.NotFound(c, "job not found")
		return
	}
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load job", err)
		return
	}

	view := jobView{Job: job}
	if job.State == download.StateQueued {
		view.QueuePosition = h.queue.PositionOf(id)
	}
	response.Success(c, http.StatusOK, "job retrieved", view)
}

type cancelRequest struct {
	RequesterID int64 `json:"requester_id" binding:"required"`
}

// Cancel handles a user cancellation.
func (h *DownloadHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	err := h.life.Cancel(c.Request.Context(), c.Param("id"), req.RequesterID)
	switch {
	case err == nil:
		response.Success(c, http.StatusOK, "cancellation accepted", nil)
	case errors.Is(err, xerrors.ErrNotFound):
		response.NotFound(c, "job not found")
	case errors.Is(err, xerrors.ErrNotOwner):
		response.Forbidden(c, "job belongs to another user")
	case errors.Is(err, xerrors.ErrAlreadyTerminal):
		response.Error(c, http.StatusConflict, "job already finished", err)
	default:
		response.Error(c, http.StatusInternalServerError, "failed to cancel job", err)
	}
}

// Usage returns the caller's consumption for today.
func (h *DownloadHandler) Usage(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		response.ValidationError(c, "invalid user id", err)
		return
	}

	u, err := h.tracker.Usage(c.Request.Context(), userID, usage.DayKey(time.Now()))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load usage", err)
		return
	}
	response.Success(c, http.StatusOK, "usage retrieved", u)
}
