// Package cache provides the content-addressed store for synthesized audio.
// Artifacts are keyed by a hash of the voice and the exact sentence text,
// held in an in-memory LRU (L1) and persisted to a SQLite database (L2).
// Writes to the persistent tiers are coalesced by a Debouncer so a burst of
// results costs a single flush.
//
// The package also provides Documents, a small JSON key/value store with one
// file per namespace, used for fetched page content and robots rules.
package cache
