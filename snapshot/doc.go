// Package snapshot holds the process-wide consolidated book and gives
// concurrent readers consistent copies of it.
//
// A Store has exactly one writer (the aggregator service) and any number of
// readers (subscription handlers, the broadcaster). Critical sections only
// swap or copy a bounded Book; nothing fallible or blocking runs under the
// lock, so a reader can never observe a half-written view.
package snapshot
