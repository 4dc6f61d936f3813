// Package repositories provides the persistence layer for the refguard pipeline.
//
// Three repositories cover the engine's data access:
//   - [EntityRepository] : live reference rows, natural-key lookups, user context
//   - [BackupRepository] : run-scoped backup tables for protected user rows
//   - [RunRepository] : run history, the exclusive run lock, and the session version counter
//
// All SQL that derives a natural key goes through the descriptors in naturalkey.go, so
// the backup and restore phases can never drift apart on what a natural key means.
package repositories
