package models

import "encoding/json"

// SnapshotRecord is a protected row copied into run-scoped backup storage before
// the reference tables are cleared. The natural key is captured by joining the
// live reference tables at backup time; records that were already orphaned carry
// an empty key and are left to the content/context repair strategies.
type SnapshotRecord struct {
	BackupID int64           // id within the backup table
	RunID    string          // run that produced this snapshot
	Table    string          // protected table the row came from
	FKColumn string          // foreign-key column being protected
	RecordID int64           // id of the live row
	OldFK    *int64          // foreign-key value at backup time, nil if already NULL
	Key      NaturalKey      // natural key of the owning entity at backup time
	UserID   *int64          // owning user, when the table declares a user column
	Content  string          // free-text content, when the table declares a content column
	Payload  json.RawMessage // full row payload for manual inspection
}

// Orphaned reports whether the record had no resolvable owning entity at backup time.
func (r SnapshotRecord) Orphaned() bool {
	return r.Key.Empty()
}
