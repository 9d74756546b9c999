package pipeline

import (
	"context"

	"github.com/quakewatch/quake-feed-service/internal/domain"
)

// RefreshFunc builds the refresh routine the feed cache runs for one key:
// fan out, deduplicate, rank, publish. Each settled tier publishes a refined
// snapshot, so a snapshot from tier 1 is visible while slower tiers are
// still fetching. Snapshots are only published once at least one provider
// has produced data; a run where everything failed publishes nothing and
// leaves the cache's previous entry intact.
func (o *Orchestrator) RefreshFunc(policy RankPolicy) func(ctx context.Context, publish func(events []domain.Event, degraded bool)) {
	priority := o.ProviderPriority()
	return func(ctx context.Context, publish func(events []domain.Event, degraded bool)) {
		o.Run(ctx, func(events []domain.Event, manifest []domain.ProviderResult) {
			if !publishable(events, manifest) {
				return
			}
			ranked := Rank(Dedup(events, priority), policy, policy.MaxLimit)
			publish(ranked, isDegraded(manifest, ranked))
		})
	}
}

// publishable distinguishes "providers succeeded, possibly with an empty
// result" from "nothing has produced data yet". Fallback events from a
// quota-skipped provider count as data.
func publishable(events []domain.Event, manifest []domain.ProviderResult) bool {
	if len(events) > 0 {
		return true
	}
	for _, r := range manifest {
		if r.Status == domain.StatusOK {
			return true
		}
	}
	return false
}

// isDegraded reports whether the snapshot contains fallback content in
// place of a normally-live provider.
func isDegraded(manifest []domain.ProviderResult, events []domain.Event) bool {
	for _, r := range manifest {
		if r.Status == domain.StatusSkippedByQuota {
			return true
		}
	}
	for _, ev := range events {
		if ev.Synthetic {
			return true
		}
	}
	return false
}
