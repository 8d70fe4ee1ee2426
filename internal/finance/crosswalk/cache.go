// Package crosswalk maps a legislator's bioguide id to funding-system
// candidate ids using the public legislators dataset, cached with a TTL.
package crosswalk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fecsync/internal/finance/metrics"
	"fecsync/internal/finance/models"
)

const defaultTTL = 24 * time.Hour

// Store persists a fetched dataset across restarts. *Snapshot implements it.
type Store interface {
	Save(entries Entries, fetchedAt time.Time) error
	Load() (Entries, time.Time, bool, error)
}

// Cache holds the dataset in memory and refetches it once the TTL lapses.
type Cache struct {
	source  Source
	store   Store
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	entries   Entries
	fetchedAt time.Time
	restored  bool
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithStore(store Store) Option {
	return func(c *Cache) {
		c.store = store
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

func NewCache(source Source, opts ...Option) *Cache {
	c := &Cache{
		source: source,
		ttl:    defaultTTL,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the external ids listed for bioguideID, or nil when the
// dataset has no entry for it.
func (c *Cache) Lookup(ctx context.Context, bioguideID string) ([]string, error) {
	entries, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	ids := entries[strings.TrimSpace(bioguideID)]
	c.metrics.IncrementCrosswalk(len(ids) > 0)
	return ids, nil
}

// Resolve looks up bioguideID and picks the id matching office and state.
// found is false when the dataset has no entry.
func (c *Cache) Resolve(ctx context.Context, bioguideID string, office models.Office, state string) (id string, found bool, err error) {
	ids, err := c.Lookup(ctx, bioguideID)
	if err != nil || len(ids) == 0 {
		return "", false, err
	}
	return SelectID(ids, office, state), true, nil
}

// Refresh forces a refetch regardless of age.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchLocked(ctx)
}

// FetchedAt reports when the in-memory dataset was fetched.
func (c *Cache) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}

func (c *Cache) current(ctx context.Context) (Entries, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.restored {
		c.restored = true
		c.restoreLocked()
	}
	if c.entries != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.entries, nil
	}

	if err := c.fetchLocked(ctx); err != nil {
		if c.entries != nil {
			c.logger.WarnContext(ctx, "crosswalk refresh failed, serving stale dataset",
				"fetched_at", c.fetchedAt,
				"error", err,
			)
			return c.entries, nil
		}
		return nil, err
	}
	return c.entries, nil
}

func (c *Cache) restoreLocked() {
	if c.store == nil {
		return
	}
	entries, fetchedAt, ok, err := c.store.Load()
	if err != nil {
		c.logger.Warn("failed to load crosswalk snapshot", "error", err)
		return
	}
	if ok {
		c.entries = entries
		c.fetchedAt = fetchedAt
	}
}

func (c *Cache) fetchLocked(ctx context.Context) error {
	entries, err := c.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("refresh crosswalk: %w", err)
	}
	c.entries = entries
	c.fetchedAt = c.now()
	c.logger.InfoContext(ctx, "crosswalk refreshed", "entries", len(entries))

	if c.store != nil {
		if err := c.store.Save(entries, c.fetchedAt); err != nil {
			c.logger.WarnContext(ctx, "failed to save crosswalk snapshot", "error", err)
		}
	}
	return nil
}

// SelectID picks one of several external ids. Ids whose office prefix
// matches office win, then ids whose embedded state (characters 3-4) matches
// state; ties keep dataset order.
func SelectID(ids []string, office models.Office, state string) string {
	if len(ids) == 0 {
		return ""
	}
	state = strings.ToUpper(strings.TrimSpace(state))
	best, bestRank := ids[0], -1
	for _, id := range ids {
		rank := 0
		if office != "" && strings.HasPrefix(id, string(office)) {
			rank += 2
		}
		if state != "" && len(id) >= 4 && id[2:4] == state {
			rank++
		}
		if rank > bestRank {
			best, bestRank = id, rank
		}
	}
	return best
}
