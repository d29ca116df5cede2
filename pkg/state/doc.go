// Package state provides the on-disk persistence layer for backfill plans,
// runs, and event logs.
//
// State lives under a configurable directory with a fixed layout:
//
//	plans/<planId>.json    - immutable plan documents
//	runs/<planId>.json     - mutable run documents (checkpointed)
//	runs/<planId>.lock     - exclusive run lock marker
//	events/<planId>.ndjson - append-only event log (audit/debug only)
//
// Documents are wrapped in a versioned envelope so fields can be added
// without breaking older persisted state. All writes are atomic (temp file +
// rename) and run documents are guarded by a single-writer lock per plan id,
// so a reader never observes a partially written checkpoint.
package state
