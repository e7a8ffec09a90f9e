// Package metrics provides lock-free counters for engine observability.
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. Export is Prometheus text exposition rendered straight from
// a snapshot; this package performs no I/O of its own beyond the handler.
package metrics
