// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/subscription"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Get retrieves the subscription record for a user.
func (r *SubscriptionRepository) Get(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	query := `
		SELECT user_id, tier, expires_at, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
	`

	var sub subscription.Subscription
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&sub.UserID, &sub.Tier, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, xerrors.StoreUnavailable(fmt.Errorf("failed to find subscription: %w", err))
	}

	return &sub, nil
}

// Put inserts or replaces the subscription record.
func (r *SubscriptionRepository) Put(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (user_id, tier, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET tier = EXCLUDED.tier, expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, sub.UserID, sub.Tier, sub.ExpiresAt, sub.CreatedAt); err != nil {
		return xerrors.StoreUnavailable(fmt.Errorf("failed to upsert subscription: %w", err))
	}
	return nil
}

// ListExpired returns paid subscriptions whose expiry has passed, for the
// maintenance sweep.
func (r *SubscriptionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT user_id, tier, expires_at, created_at, updated_at
		FROM subscriptions
		WHERE tier <> 'free' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, xerrors.StoreUnavailable(fmt.Errorf("failed to list expired subscriptions: %w", err))
	}
	defer rows.Close()

	var subs []*subscription.Subscription
	for rows.Next() {
		var sub subscription.Subscription
		if err := rows.Scan(&sub.UserID, &sub.Tier, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}
