// Package models defines journal entities and persistence interfaces for the dwh warehouse tooling.
//
// Every CLI invocation that touches the warehouse, the lake, or the cloud is journaled locally so that
// operators can see what ran and where a partial run stopped.
//
//   - [Run] : one command invocation (provision, schema, etl, lake, pipeline, quality)
//   - [Step] : one statement or DAG task inside a run, the resumption marker for partial runs
//   - [Cluster] : the last known endpoint, role ARN and security group of a provisioned cluster
//   - [QualityResult] : row count observed for a table by the data quality check
//
// Persistent entities implement the [Model] interface providing ID, timestamps and validation.
// The [Repository] interface defines standard CRUD operations for database access.
package models
