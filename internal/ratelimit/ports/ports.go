// Package ports defines shared interfaces for the ratelimit module.
package ports

import (
	"context"
	"time"

	"fecsync/internal/ratelimit/models"
)

// BucketStore keeps one sliding-window request counter per key.
type BucketStore interface {
	// Allow consumes one slot of key's window when the window has room.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}
