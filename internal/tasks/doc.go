// Package tasks runs warehouse pipelines as DAGs of operators with real-time progress reporting.
//
// # Core Operations
//
//  1. [DAG] : a set of [Operator] values with downstream dependencies
//     - [DAG.Add] registers operators by id
//     - [DAG.SetDownstream] and [DAG.Chain] wire dependencies
//     - [DAG.Layers] orders tasks topologically and rejects cycles
//
//  2. [Executor.Run] : runs a DAG for one logical execution date
//     - independent tasks run concurrently, bounded by MaxActiveTasks
//     - each task is retried with a constant delay before it counts as failed
//     - downstream tasks of a failed task are marked upstream_failed and never run
//     - each task is journaled as a step of the run through a [Recorder]
//
// # Progress Reporting
//
// All long-running operations in this module report through non-blocking channels of [ProgressUpdate].
// Updates use select with default to prevent blocking; see [Send].
package tasks
