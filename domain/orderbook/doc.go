// Package orderbook holds the canonical price-level types and the merge
// that turns per-venue depth snapshots into one ranked, bounded book.
//
// Everything here is pure: no locks, no I/O, no clocks except the receive
// stamp set by NewDepthSnapshot.
package orderbook
