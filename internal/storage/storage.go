// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"crous_bot/internal/model"
)

// Meta keys shared between the store and its callers. Absence of a key is a
// valid state ("no override set", "never polled").
const (
	MetaLastPollAt          = "last_poll_at"
	MetaLastHeartbeatAt     = "last_heartbeat_at"
	MetaLastErrorAlertAt    = "last_error_alert_at"
	MetaConsecutiveFailures = "consecutive_failures"
	MetaUpdateOffset        = "update_offset"
	MetaMaxPriceOverride    = "max_price_override"
	MetaKeywordsOverride    = "keywords_override"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	// FilterNew returns the subset of listings not previously observed,
	// persisting a seen entry for each as a side effect.
	FilterNew(ctx context.Context, listings []model.Listing) ([]model.Listing, error)

	// GetMeta returns the value for key, or "" when the key is absent.
	GetMeta(ctx context.Context, key string) (string, error)
	// SetMeta upserts a meta entry.
	SetMeta(ctx context.Context, key, value string) error

	ResetFailureCount(ctx context.Context) error
	RegisterFailure(ctx context.Context) (int, error)

	ShouldSendHeartbeat(ctx context.Context, interval time.Duration) (bool, error)
	ShouldSendErrorAlert(ctx context.Context, cooldown time.Duration) (bool, error)

	Close() error
}
