// Package models defines domain shapes shared by the refguard pipeline, repositories, and CLI.
//
// The package contains two categories of types:
//
// 1. Reference-data shapes: the stable identity of scraped entities
//   - [NaturalKey] : the attribute tuple identifying an entity across reloads
//   - [EntityRef] : a live reference row (surrogate id + natural key)
//
// 2. Run-scoped shapes: data produced and consumed by a single pipeline run
//   - [SnapshotRecord] : a protected row copied into backup storage with its captured natural key
//   - [TableHealth] / [HealthReport] : per-table and overall integrity scoring
//   - [RunRecord] : persisted run history consumed by health-check and the TUI
//
// Surrogate ids are int64 database keys with run-scoped lifetime; natural keys are the
// only identity trusted across runs.
package models
