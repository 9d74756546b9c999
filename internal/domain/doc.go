// Package domain models the canonical safety event every upstream provider
// is normalized into, and the region classification applied to it.
//
// # Event taxonomy
//
// Two kinds of record flow through the pipeline:
//
//	seismic    a sensor-reported earthquake (magnitude, depth, epicenter)
//	narrative  a human- or model-authored article about earthquake activity
//
// Both share one schema so downstream ranking, deduplication, and caching
// never branch on provider-specific shapes.
//
// # Region classification
//
// The feed intentionally over-represents one priority region (the Indian
// subcontinent) near the top of results. Classification is driven by an
// embedded data table (regions.yaml) containing:
//
//   - an inclusion list of place-name substrings ("india", "gujarat", ...)
//   - an exclusion list of confusable names that contain an inclusion term
//     but lie outside the region ("indiana", "indian wells", ...)
//   - a coordinate bounding box used only when the provider reports an
//     epicenter
//
// Exclusion entries exist because matching is substring-based: "Indiana,
// United States" contains "india" and must still classify as other. The
// table is curated by hand rather than derived from a geofence; the intended
// boundary mixes political and geographic criteria that no single polygon
// captures.
//
// Classification is recomputed on every pass and never trusted from an
// upstream tag. Events the classifier cannot place default to other; they
// are never dropped.
//
// # Identity
//
// A provider's event ID is stable per phenomenon only within that provider.
// Cross-provider duplicates (the same quake reported by two catalogs) are a
// deduplication concern, not an adapter concern. Providers without native
// IDs derive one deterministically via [DeriveID] so replays are idempotent.
package domain
