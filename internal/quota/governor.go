// Package quota tracks daily call budgets for rate-limited providers.
package quota

import (
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/quakewatch/quake-feed-service/internal/observability"
)

const dayLayout = "2006-01-02"

// warnFraction of the daily limit at which the warning flag trips, letting
// callers degrade gracefully before hard denial.
const warnFraction = 0.8

// Governor owns per-provider calendar-day counters. Counters reset when the
// observed local day rolls over. All state is private to the governor;
// callers only see allow/deny and the warning flag.
type Governor struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	limits  map[string]int

	mu     sync.Mutex
	day    string
	counts map[string]int
	warned map[string]bool
}

// New creates a Governor. Providers absent from limits are unmetered.
func New(limits map[string]int, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Governor {
	return &Governor{
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		limits:  limits,
		day:     clock.Now().Local().Format(dayLayout),
		counts:  make(map[string]int),
		warned:  make(map[string]bool),
	}
}

// TryAcquire consumes one call from the provider's daily budget. It returns
// false once the budget is exhausted; the caller must then serve its
// fallback path instead of hitting the upstream.
func (g *Governor) TryAcquire(provider string) bool {
	limit, metered := g.limits[provider]
	if !metered {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	if g.counts[provider] >= limit {
		g.metrics.QuotaDenied.WithLabelValues(provider).Inc()
		return false
	}
	g.counts[provider]++

	if !g.warned[provider] && float64(g.counts[provider]) >= warnFraction*float64(limit) {
		g.warned[provider] = true
		g.logger.Warn("provider approaching daily quota",
			"provider", provider, "used", g.counts[provider], "limit", limit)
	}
	return true
}

// WarningCrossed reports whether the provider has passed the warning
// threshold for the current day.
func (g *Governor) WarningCrossed(provider string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.warned[provider]
}

// Remaining returns the unused budget for the current day, or -1 for
// unmetered providers.
func (g *Governor) Remaining(provider string) int {
	limit, metered := g.limits[provider]
	if !metered {
		return -1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	if rem := limit - g.counts[provider]; rem > 0 {
		return rem
	}
	return 0
}

func (g *Governor) rolloverLocked() {
	today := g.clock.Now().Local().Format(dayLayout)
	if today == g.day {
		return
	}
	g.logger.Info("quota day rolled over", "from", g.day, "to", today)
	g.day = today
	g.counts = make(map[string]int)
	g.warned = make(map[string]bool)
}
