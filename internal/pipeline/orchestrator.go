// Package pipeline turns raw provider payloads into the ranked, bounded
// event list a feed consumer sees: tiered concurrent fetching, duplicate
// collapse, and priority-region ranking.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/quakewatch/quake-feed-service/internal/domain"
	"github.com/quakewatch/quake-feed-service/internal/observability"
	"github.com/quakewatch/quake-feed-service/internal/provider"
)

// Tier groups providers that share one timeout budget and fan-out wave.
// Earlier tiers hold the fastest, most essential sources.
type Tier struct {
	Timeout   time.Duration
	Providers []provider.Provider
}

// Orchestrator runs a feed's provider set tier by tier. Providers within a
// tier fetch concurrently; a provider that misses its tier deadline is
// abandoned and its late result discarded. A tier where everything fails
// yields zero events and execution continues.
type Orchestrator struct {
	tiers   []Tier
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewOrchestrator creates an orchestrator over the given tiers.
func NewOrchestrator(tiers []Tier, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{tiers: tiers, logger: logger, metrics: metrics}
}

// ProviderPriority maps provider names to their tier index. The deduplicator
// uses it to keep the record from the earlier-tier provider when two sources
// report the same phenomenon.
func (o *Orchestrator) ProviderPriority() map[string]int {
	prio := make(map[string]int)
	for i, tier := range o.tiers {
		for _, p := range tier.Providers {
			if _, ok := prio[p.Name()]; !ok {
				prio[p.Name()] = i
			}
		}
	}
	return prio
}

// Run executes all tiers in order. After each tier settles (or its timeout
// elapses), publish is invoked with the cumulative event set and manifest so
// far, so early tiers reach consumers while later tiers are still fetching.
// The returned manifest covers every provider in every tier that ran before
// ctx was cancelled.
func (o *Orchestrator) Run(ctx context.Context, publish func(events []domain.Event, manifest []domain.ProviderResult)) []domain.ProviderResult {
	var (
		events   []domain.Event
		manifest []domain.ProviderResult
	)

	for i, tier := range o.tiers {
		if ctx.Err() != nil {
			break
		}
		results := o.runTier(ctx, tier)
		for _, r := range results {
			o.observe(r)
			manifest = append(manifest, r)
			events = append(events, r.Events...)
		}
		o.logger.Debug("tier settled", "tier", i, "providers", len(tier.Providers), "events_total", len(events))

		if publish != nil {
			publish(snapshotEvents(events), snapshotManifest(manifest))
		}
	}
	return manifest
}

// runTier fans out one tier and waits for full settlement or the tier
// timeout. The results channel is buffered to tier size so an abandoned
// provider's goroutine can still complete and exit; its result is simply
// never read.
func (o *Orchestrator) runTier(ctx context.Context, tier Tier) []domain.ProviderResult {
	results := make(chan domain.ProviderResult, len(tier.Providers))

	tierCtx, cancel := context.WithTimeout(ctx, tier.Timeout)
	defer cancel()

	for _, p := range tier.Providers {
		go func(p provider.Provider) {
			start := time.Now()
			r := p.Fetch(tierCtx)
			r.Provider = p.Name()
			r.Latency = time.Since(start)
			results <- r
		}(p)
	}

	settled := make(map[string]bool, len(tier.Providers))
	collected := make([]domain.ProviderResult, 0, len(tier.Providers))
	deadline := time.NewTimer(tier.Timeout)
	defer deadline.Stop()

	for len(collected) < len(tier.Providers) {
		select {
		case r := <-results:
			settled[r.Provider] = true
			collected = append(collected, r)
		case <-deadline.C:
			return o.markAbandoned(tier, settled, collected)
		case <-ctx.Done():
			return o.markAbandoned(tier, settled, collected)
		}
	}
	return collected
}

// markAbandoned fills manifest entries for providers that never settled.
// Their eventual results arrive on a buffered channel nobody reads again,
// which is what discards them: a late result can never race into a ranking
// pass that already closed.
func (o *Orchestrator) markAbandoned(tier Tier, settled map[string]bool, collected []domain.ProviderResult) []domain.ProviderResult {
	for _, p := range tier.Providers {
		if settled[p.Name()] {
			continue
		}
		o.logger.Warn("provider abandoned at tier deadline", "provider", p.Name(), "timeout", tier.Timeout)
		collected = append(collected, domain.ProviderResult{
			Provider: p.Name(),
			Status:   domain.StatusTimedOut,
			Latency:  tier.Timeout,
		})
	}
	return collected
}

func (o *Orchestrator) observe(r domain.ProviderResult) {
	o.metrics.ProviderRequests.WithLabelValues(r.Provider, string(r.Status)).Inc()
	o.metrics.ProviderLatency.WithLabelValues(r.Provider).Observe(r.Latency.Seconds())
	if len(r.Events) > 0 {
		o.metrics.ProviderEvents.WithLabelValues(r.Provider).Add(float64(len(r.Events)))
	}
}

func snapshotEvents(events []domain.Event) []domain.Event {
	out := make([]domain.Event, len(events))
	copy(out, events)
	return out
}

func snapshotManifest(manifest []domain.ProviderResult) []domain.ProviderResult {
	out := make([]domain.ProviderResult, len(manifest))
	copy(out, manifest)
	return out
}
