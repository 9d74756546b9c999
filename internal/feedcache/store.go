// Package feedcache serves the latest known-good ranked list for each feed
// key and keeps it fresh in the background: TTL staleness, stale-serve while
// a refresh runs, and at most one in-flight refresh per key.
package feedcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/quakewatch/quake-feed-service/internal/domain"
	"github.com/quakewatch/quake-feed-service/internal/observability"
)

// ErrNoData means no refresh has ever succeeded for the key: the one case a
// feed read surfaces an error instead of (possibly stale) data.
var ErrNoData = errors.New("no data has been produced for this feed yet")

// ErrUnknownFeed means the key was never registered.
var ErrUnknownFeed = errors.New("unknown feed key")

// RefreshFunc runs one provider fan-out for a feed. It calls publish with
// each progressively refined snapshot; a run that produces nothing simply
// never calls publish.
type RefreshFunc func(ctx context.Context, publish func(events []domain.Event, degraded bool))

// FeedSpec registers one feed key with its freshness and size policy.
type FeedSpec struct {
	Key            string
	TTL            time.Duration
	RefreshTimeout time.Duration
	DefaultLimit   int
	MaxLimit       int
	Refresh        RefreshFunc
}

// Feed is the envelope a consumer receives.
type Feed struct {
	Key         string         `json:"key"`
	Events      []domain.Event `json:"events"`
	GeneratedAt time.Time      `json:"generated_at"`
	Stale       bool           `json:"stale"`
	Degraded    bool           `json:"degraded"`
}

// Store is the cache manager. Entries live for the process lifetime; a
// failed refresh never clobbers the last good entry, and a superseded
// refresh can never overwrite a newer one.
type Store struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	// OnSnapshot, when set before use, is invoked after a refresh commits
	// its final snapshot (feed publisher hook). Called outside the lock.
	OnSnapshot func(key string, events []domain.Event)

	mu      sync.Mutex
	specs   map[string]FeedSpec
	entries map[string]*entry
	ready   atomic.Bool
}

type entry struct {
	events      []domain.Event
	generatedAt time.Time
	degraded    bool
	hasData     bool

	refreshing bool
	refreshSeq uint64        // id of the refresh currently allowed to commit
	firstDone  chan struct{} // closed when data first lands or the first refresh gives up
}

// NewStore creates an empty cache manager.
func NewStore(clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Store {
	return &Store{
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		specs:   make(map[string]FeedSpec),
		entries: make(map[string]*entry),
	}
}

// Register adds a feed key. Must be called before the first GetFeed for the
// key; registration is not concurrency-sensitive after startup.
func (s *Store) Register(spec FeedSpec) error {
	if spec.Key == "" || spec.Refresh == nil {
		return errors.New("feed spec needs a key and a refresh func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.specs[spec.Key]; exists {
		return fmt.Errorf("feed %q already registered", spec.Key)
	}
	s.specs[spec.Key] = spec
	return nil
}

// Keys lists the registered feed keys.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.specs))
	for k := range s.specs {
		keys = append(keys, k)
	}
	return keys
}

// CheckReadiness returns nil once any feed has served a successful refresh.
func (s *Store) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no feed has completed a refresh yet")
	}
	return nil
}

// GetFeed returns the current entry for key, truncated to the clamped
// limit. A stale entry is returned immediately while one background refresh
// runs; only the very first read of a key blocks, waiting for the initial
// fetch. Concurrent cold readers share that single fetch.
func (s *Store) GetFeed(ctx context.Context, key string, limit int) (Feed, error) {
	s.mu.Lock()
	spec, ok := s.specs[key]
	if !ok {
		s.mu.Unlock()
		return Feed{}, fmt.Errorf("%w: %q", ErrUnknownFeed, key)
	}

	e, exists := s.entries[key]
	if !exists {
		e = &entry{}
		s.entries[key] = e
	}

	if !e.hasData {
		// Cold key: wait for the first fetch. A previous total failure
		// leaves no data behind, so a later read tries again.
		if e.firstDone == nil {
			e.firstDone = make(chan struct{})
		}
		if !e.refreshing {
			s.startRefreshLocked(spec, e)
		}
		done := e.firstDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			s.metrics.FeedRequests.WithLabelValues(key, "error").Inc()
			return Feed{}, ctx.Err()
		}
		s.mu.Lock()
	}

	if !e.hasData {
		s.mu.Unlock()
		s.metrics.FeedRequests.WithLabelValues(key, "error").Inc()
		return Feed{}, fmt.Errorf("%w: %q", ErrNoData, key)
	}

	stale := s.clock.Since(e.generatedAt) > spec.TTL
	if stale && !e.refreshing {
		s.startRefreshLocked(spec, e)
	}
	feed := s.feedLocked(key, spec, e, limit, stale)
	s.mu.Unlock()

	result := "fresh"
	if stale {
		result = "stale"
	}
	s.metrics.FeedRequests.WithLabelValues(key, result).Inc()
	return feed, nil
}

// feedLocked snapshots the entry into a consumer envelope. Callers hold mu.
func (s *Store) feedLocked(key string, spec FeedSpec, e *entry, limit int, stale bool) Feed {
	limit = clampLimit(limit, spec)
	events := e.events
	if len(events) > limit {
		events = events[:limit]
	}
	out := make([]domain.Event, len(events))
	copy(out, events)
	return Feed{
		Key:         key,
		Events:      out,
		GeneratedAt: e.generatedAt,
		Stale:       stale,
		Degraded:    e.degraded,
	}
}

func clampLimit(limit int, spec FeedSpec) int {
	if limit <= 0 {
		return spec.DefaultLimit
	}
	if limit > spec.MaxLimit {
		return spec.MaxLimit
	}
	return limit
}

// startRefreshLocked marks the entry refreshing and launches the background
// refresh. Callers hold mu; the refreshing flag is what collapses concurrent
// triggers into one fan-out.
func (s *Store) startRefreshLocked(spec FeedSpec, e *entry) {
	e.refreshing = true
	e.refreshSeq++
	go s.refresh(spec, e, e.refreshSeq)
}

// refresh runs one fan-out for the key. Snapshots commit through commit,
// which rejects writes from a refresh that is no longer current, so a
// superseded run can never overwrite a newer entry.
func (s *Store) refresh(spec FeedSpec, e *entry, seq uint64) {
	s.metrics.RefreshesInFlight.Inc()
	defer s.metrics.RefreshesInFlight.Dec()
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), spec.RefreshTimeout)
	defer cancel()

	committed := false
	spec.Refresh(ctx, func(events []domain.Event, degraded bool) {
		if s.commit(spec.Key, e, seq, events, degraded) {
			committed = true
		}
	})

	s.mu.Lock()
	if e.refreshSeq == seq {
		e.refreshing = false
	}
	s.closeFirstDoneLocked(e)
	var snapshot []domain.Event
	if committed && s.OnSnapshot != nil {
		snapshot = make([]domain.Event, len(e.events))
		copy(snapshot, e.events)
	}
	s.mu.Unlock()

	s.metrics.RefreshDuration.WithLabelValues(spec.Key).Observe(time.Since(start).Seconds())
	if !committed {
		s.logger.Warn("feed refresh produced no snapshot", "feed", spec.Key)
		return
	}
	if snapshot != nil {
		s.OnSnapshot(spec.Key, snapshot)
	}
}

// commit installs a snapshot. Only the value the refresh is about to publish
// is ever cached; nothing captured earlier in another control path can leak
// in, and a stale refresh generation is dropped.
func (s *Store) commit(key string, e *entry, seq uint64, events []domain.Event, degraded bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != e.refreshSeq {
		s.logger.Warn("discarding snapshot from superseded refresh", "feed", key)
		return false
	}
	e.events = events
	e.generatedAt = s.clock.Now()
	e.degraded = degraded
	e.hasData = true
	s.ready.Store(true)
	s.closeFirstDoneLocked(e)
	return true
}

func (s *Store) closeFirstDoneLocked(e *entry) {
	if e.firstDone != nil {
		close(e.firstDone)
		e.firstDone = nil
	}
}
