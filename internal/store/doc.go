// Package store provides SQLite-backed durable archiving of run
// documents.
//
// The archive is an append-only log:
//   - Runs: one row per run-start, finalized by its run-stop
//   - Documents: every emitted document, in emission order
//
// # Critical Patterns
//
// Idempotent writes
//   - INSERT ... ON CONFLICT(id) DO NOTHING on every document
//   - Re-delivering a document (resume replay, at-least-once
//     subscribers) never duplicates a row
//
// Logical ordering
//   - All ordering uses seq INTEGER (the engine's logical clock),
//     never timestamps
//   - Reads MUST include: ORDER BY seq ASC, id ASC COLLATE BINARY
//     so an archived run reads back in emission order
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: documents always belong to a known run
//
// Document bodies are stored as canonical JSON (RFC 8785 key order, no
// HTML escaping) so that byte-level comparison of archived runs is
// meaningful.
package store
