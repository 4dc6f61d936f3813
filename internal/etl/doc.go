// Package etl implements the reference-data reload pipeline.
//
// The core abstraction is [Pipeline], which runs six strictly sequential phases:
// constraint guardian, snapshot manager, bulk reference loader, mapping resolver,
// orphan repairer, health validator. Reference tables are destructively reloaded every
// run; the pipeline's whole job is making sure user-owned rows pointing into them come
// out the other side with live foreign keys.
//
// Phases emit progress updates via channels for non-blocking status reporting to the
// CLI/TUI layers. Record-level failures are counted outcomes, batch-level transient
// errors are retried with backoff, and only pre-flight constraint failures or critical
// health scores fail a run.
package etl
