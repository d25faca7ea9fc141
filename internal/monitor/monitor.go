// Package monitor drives the polling loop: fetch, filter, dedup, notify.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"crous_bot/internal/fetcher"
	"crous_bot/internal/filter"
	"crous_bot/internal/model"
	"crous_bot/internal/storage"
)

// minSleep is the floor applied to the jittered inter-poll delay.
const minSleep = 30 * time.Second

const heartbeatMessage = "✅ CROUS monitor is alive and polling."

// Source fetches listings from one search URL.
type Source interface {
	FetchListings(ctx context.Context, searchURL string) ([]model.Listing, error)
}

// Notifier delivers outbound messages.
type Notifier interface {
	SendListing(ctx context.Context, l model.Listing) error
	SendText(ctx context.Context, text string) error
}

// CommandSyncer ingests pending inbound commands.
type CommandSyncer interface {
	SyncCommands(ctx context.Context) error
}

// Config carries the orchestration knobs.
type Config struct {
	SearchURLs        []string
	StaticRules       filter.Rules
	PollInterval      time.Duration
	PollJitter        time.Duration
	HeartbeatInterval time.Duration // zero disables heartbeats
	AlertThreshold    int
	AlertCooldown     time.Duration
}

// Monitor runs polling cycles against the configured search sources.
type Monitor struct {
	cfg      Config
	source   Source
	store    storage.Storage
	notifier Notifier
	commands CommandSyncer
	log      *slog.Logger
}

// New creates a Monitor.
func New(cfg Config, source Source, store storage.Storage, notifier Notifier, commands CommandSyncer, log *slog.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		source:   source,
		store:    store,
		notifier: notifier,
		commands: commands,
		log:      log,
	}
}

// PollOnce runs a single fetch→filter→dedup→notify cycle and returns the
// total number of extracted listings and how many were newly seen.
// Seen-state marking happens even on dry runs; only delivery is skipped.
// Any source failing aborts the whole cycle.
func (m *Monitor) PollOnce(ctx context.Context, dryRun bool) (total, fresh int, err error) {
	var listings []model.Listing
	for _, searchURL := range m.cfg.SearchURLs {
		found, err := m.source.FetchListings(ctx, searchURL)
		if err != nil {
			return 0, 0, fmt.Errorf("fetch listings: %w", err)
		}
		listings = append(listings, found...)
	}

	rules, err := filter.Resolve(ctx, m.store, m.cfg.StaticRules)
	if err != nil {
		return 0, 0, err
	}
	passed := filter.Apply(listings, rules)

	newListings, err := m.store.FilterNew(ctx, passed)
	if err != nil {
		return 0, 0, err
	}

	for _, l := range newListings {
		if dryRun {
			m.log.Info("dry-run: new listing", "title", l.Title, "url", l.URL)
			continue
		}
		if err := m.notifier.SendListing(ctx, l); err != nil {
			m.log.Error("send listing alert", "url", l.URL, "error", err)
			continue
		}
		m.log.Info("sent listing alert", "url", l.URL)
	}

	return len(listings), len(newListings), nil
}

// Run executes polling cycles until ctx is cancelled. Each iteration syncs
// inbound commands, possibly heartbeats, polls, then sleeps: the jittered
// poll interval after a successful cycle, the failure backoff otherwise.
func (m *Monitor) Run(ctx context.Context, dryRun bool) {
	failures := 0
	for ctx.Err() == nil {
		if err := m.commands.SyncCommands(ctx); err != nil {
			m.log.Error("sync commands", "error", err)
		}
		m.maybeHeartbeat(ctx)

		total, fresh, err := m.PollOnce(ctx, dryRun)
		if err == nil {
			failures = 0
			if err := m.store.ResetFailureCount(ctx); err != nil {
				m.log.Error("reset failure count", "error", err)
			}
			m.log.Info("poll finished", "total", total, "new", fresh)
			sleepCtx(ctx, m.nextSleep())
			continue
		}

		if ctx.Err() != nil {
			return
		}

		count, storeErr := m.store.RegisterFailure(ctx)
		if storeErr != nil {
			m.log.Error("register failure", "error", storeErr)
			count = failures + 1
		}
		failures = count

		var reqErr *fetcher.RequestError
		if errors.As(err, &reqErr) {
			m.log.Warn("poll failed", "attempt", count, "error", err)
		} else {
			m.log.Error("poll failed unexpectedly", "attempt", count, "error", err)
		}

		m.maybeAlert(ctx, count, err)

		backoff := backoffDuration(count)
		m.log.Debug("backing off", "sleep", backoff)
		sleepCtx(ctx, backoff)
	}
}

func (m *Monitor) maybeHeartbeat(ctx context.Context) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	due, err := m.store.ShouldSendHeartbeat(ctx, m.cfg.HeartbeatInterval)
	if err != nil {
		m.log.Error("heartbeat check", "error", err)
		return
	}
	if !due {
		return
	}
	if err := m.notifier.SendText(ctx, heartbeatMessage); err != nil {
		m.log.Error("send heartbeat", "error", err)
	}
}

// maybeAlert notifies the operator about a failure streak, gated by the
// configured threshold and the persisted cooldown.
func (m *Monitor) maybeAlert(ctx context.Context, failures int, cause error) {
	if m.cfg.AlertThreshold <= 0 || failures < m.cfg.AlertThreshold {
		return
	}
	due, err := m.store.ShouldSendErrorAlert(ctx, m.cfg.AlertCooldown)
	if err != nil {
		m.log.Error("error alert check", "error", err)
		return
	}
	if !due {
		return
	}
	msg := fmt.Sprintf("⚠️ CROUS monitor: %d polls in a row have failed.\nLast error: %v", failures, cause)
	if err := m.notifier.SendText(ctx, msg); err != nil {
		m.log.Error("send error alert", "error", err)
	}
}

// nextSleep is the jittered inter-poll delay, floored at 30 seconds.
func (m *Monitor) nextSleep() time.Duration {
	d := m.cfg.PollInterval
	if j := m.cfg.PollJitter; j > 0 {
		d += time.Duration(rand.Int64N(int64(2*j)+1)) - j
	}
	if d < minSleep {
		d = minSleep
	}
	return d
}

// backoffDuration implements min(300s, 2^min(failures, 8) seconds).
func backoffDuration(failures int) time.Duration {
	if failures > 8 {
		failures = 8
	}
	secs := 1 << failures
	if secs > 300 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
