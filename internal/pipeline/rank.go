package pipeline

import (
	"sort"

	"github.com/quakewatch/quake-feed-service/internal/domain"
)

// RankPolicy parameterizes the ranking for one feed.
type RankPolicy struct {
	// PriorityRatio:OtherRatio is the interleave pattern, e.g. 3:2 pulls
	// three priority-region events then two others per round.
	PriorityRatio int
	OtherRatio    int

	// MixedKinds enables the narrative-over-seismic preference within a
	// round. Seismic-only feeds leave it false.
	MixedKinds bool

	DefaultLimit int
	MaxLimit     int
}

// ClampLimit applies the policy's default and maximum to a requested limit.
// Out-of-range requests are clamped, never rejected.
func (p RankPolicy) ClampLimit(limit int) int {
	if limit <= 0 {
		return p.DefaultLimit
	}
	if limit > p.MaxLimit {
		return p.MaxLimit
	}
	return limit
}

// Rank orders a deduplicated event set and truncates it to limit. Events
// split into a priority-region bucket and an other bucket, each sorted
// independently; the output interleaves the buckets at the policy ratio so
// the priority region is over-represented near the top without ever
// starving global coverage. Once a bucket empties, the remainder of the
// other bucket follows in its own order. The ordering is a pure function of
// the input set.
func Rank(events []domain.Event, policy RankPolicy, limit int) []domain.Event {
	limit = policy.ClampLimit(limit)

	var priority, other []domain.Event
	for _, ev := range events {
		if ev.Region == domain.RegionPriority {
			priority = append(priority, ev)
		} else {
			other = append(other, ev)
		}
	}
	sortBucket(priority, policy.MixedKinds)
	sortBucket(other, policy.MixedKinds)

	out := make([]domain.Event, 0, min(limit, len(events)))
	for len(priority) > 0 && len(other) > 0 {
		priority, out = pull(priority, out, policy.PriorityRatio)
		other, out = pull(other, out, policy.OtherRatio)
	}
	out = append(out, priority...)
	out = append(out, other...)

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// sortBucket orders one region bucket: narrative before seismic when the
// feed mixes kinds, then newest first, then ID for full determinism.
func sortBucket(events []domain.Event, mixedKinds bool) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if mixedKinds && a.Kind != b.Kind {
			return a.Kind == domain.KindNarrative
		}
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		return a.ID < b.ID
	})
}

func pull(bucket, out []domain.Event, n int) ([]domain.Event, []domain.Event) {
	if n > len(bucket) {
		n = len(bucket)
	}
	return bucket[n:], append(out, bucket[:n]...)
}
