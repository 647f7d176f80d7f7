// Package service turns per-venue depth snapshots into the shared merged
// book.
//
// AggregatorService is the only writer of snapshot.Store. Connectors hand it
// their latest snapshot; it keeps one slot per venue (latest wins, no
// history), re-merges on every change and publishes the stamped result.
package service
