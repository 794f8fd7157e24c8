// Package sync reconciles the local store with the remote service.
//
// A sync cycle walks the registry's tables in order. For each table the
// engine first uploads every locally-dirty record (tombstones included:
// deletions become remote deletes, everything else a remote upsert keyed by
// id) and marks exactly the confirmed identifiers as synced. It then
// downloads every remote record modified since the last successful cycle and
// merges it with last-write-wins semantics: a remote row only overwrites the
// local one when its modification timestamp is strictly greater.
//
// Cycles never overlap: a cycle requested while one is running is rejected
// as a logged no-op. Per-record failures are isolated: the record stays
// dirty and is retried next cycle. An unexpected cycle-level failure
// records an error in the status snapshot and leaves the download watermark
// untouched, so no remote change can be skipped. Records already written
// before a failure are not rolled back; the flags make replay idempotent.
//
// The watermark is persisted in the store, so a fresh engine over an
// existing database resumes downloads where the previous process left off
// instead of replaying from the beginning.
package sync
