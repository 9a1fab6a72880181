// Package memstore is a reference implementation of extent.Cache and
// extent.Transaction backed by an in-process map, modeled on the
// copy-on-write shadow-page workflow and transaction lifecycle bookkeeping
// used elsewhere in this module's storage layer. It exists so lbatree can
// be exercised end to end without a real disk-backed block device:
// allocation hands out monotonically increasing absolute addresses,
// duplicate-for-write shadows the caller's in-memory copy rather than a
// page on disk, and retire/commit bookkeeping is tracked per transaction
// rather than replayed through a write-ahead log.
package memstore
