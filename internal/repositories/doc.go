// Package repositories implements SQLite persistence for the local run journal.
//
// Key Implementations:
//   - [RunRepository] : one row per command invocation with a human-readable sequence number
//   - [StepRepository] : statements and DAG tasks inside a run, used to resume partial runs
//   - [ClusterRepository] : last known endpoint and role ARN per cluster identifier
//   - [QualityRepository] : row counts observed by data quality checks
//
// Sequence numbers provide stable, human-readable ordering (e.g., run #42) independent of UUIDs and timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
