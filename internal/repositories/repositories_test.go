package repositories

import (
	"errors"
	"testing"

	"github.com/halfcourt/refguard/internal/models"
	"github.com/halfcourt/refguard/internal/shared"
	ht "github.com/halfcourt/refguard/internal/testing"
)

var pollsTable = shared.ProtectedTable{
	Name:          "polls",
	FKColumn:      "team_id",
	References:    "teams",
	Nullable:      true,
	ContentColumn: "question",
	UserColumn:    "created_by",
	Weight:        1.0,
}

func TestEntityRepository(t *testing.T) {
	t.Run("LiveRefs teams", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)

		repo := NewEntityRepository(db)
		refs, err := repo.LiveRefs("teams")
		if err != nil {
			t.Fatalf("failed to load live teams: %v", err)
		}

		if len(refs) != 3 {
			t.Fatalf("expected 3 teams, got %d", len(refs))
		}

		var tennaqua22 *models.EntityRef
		for i := range refs {
			if refs[i].ID == 100 {
				tennaqua22 = &refs[i]
			}
		}
		if tennaqua22 == nil {
			t.Fatal("team 100 missing from live refs")
		}

		want := models.NaturalKey{LeagueID: "APTA_CHICAGO", ClubName: "Tennaqua", SeriesName: "Series 22", TeamName: "Tennaqua 22", TeamAlias: "22"}
		if tennaqua22.Key != want {
			t.Errorf("unexpected natural key: %s", tennaqua22.Key)
		}
		if !tennaqua22.Active {
			t.Error("team 100 should be active")
		}
	})

	t.Run("LiveRefs players", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)

		repo := NewEntityRepository(db)
		refs, err := repo.LiveRefs("players")
		if err != nil {
			t.Fatalf("failed to load live players: %v", err)
		}

		if len(refs) != 2 {
			t.Fatalf("expected 2 players, got %d", len(refs))
		}
		for _, ref := range refs {
			if ref.Key.ExtPlayerID == "" {
				t.Errorf("player %d missing external id in key", ref.ID)
			}
			if ref.Key.LeagueID != "APTA_CHICAGO" {
				t.Errorf("player %d missing league in key", ref.ID)
			}
		}
	})

	t.Run("LiveRefs unknown table", func(t *testing.T) {
		db := ht.SetupDB(t)

		repo := NewEntityRepository(db)
		if _, err := repo.LiveRefs("polls"); !errors.Is(err, shared.ErrTableUnknown) {
			t.Errorf("expected ErrTableUnknown, got %v", err)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)

		repo := NewEntityRepository(db)

		ok, err := repo.Exists("teams", 100)
		if err != nil || !ok {
			t.Errorf("team 100 should exist: ok=%v err=%v", ok, err)
		}

		ok, err = repo.Exists("teams", 999)
		if err != nil || ok {
			t.Errorf("team 999 should not exist: ok=%v err=%v", ok, err)
		}
	})

	t.Run("UserTeamIDs", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)

		repo := NewEntityRepository(db)

		ids, err := repo.UserTeamIDs(10, "APTA_CHICAGO")
		if err != nil {
			t.Fatalf("failed to query user teams: %v", err)
		}
		if len(ids) != 1 || ids[0] != 100 {
			t.Errorf("expected [100], got %v", ids)
		}

		ids, err = repo.UserTeamIDs(10, "NSTF")
		if err != nil {
			t.Fatalf("failed to query user teams: %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("expected no teams outside league, got %v", ids)
		}
	})
}

func TestBackupRepository(t *testing.T) {
	t.Run("Capture and Snapshots", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)

		repo := NewBackupRepository(db)
		if err := repo.Reset(pollsTable); err != nil {
			t.Fatalf("failed to reset backup table: %v", err)
		}

		count, err := repo.Capture(pollsTable, "run-1")
		if err != nil {
			t.Fatalf("failed to capture polls: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 poll captured, got %d", count)
		}

		snaps, err := repo.Snapshots(pollsTable, "run-1")
		if err != nil {
			t.Fatalf("failed to read snapshots: %v", err)
		}
		if len(snaps) != 1 {
			t.Fatalf("expected 1 snapshot, got %d", len(snaps))
		}

		snap := snaps[0]
		if snap.RecordID != 1 {
			t.Errorf("expected record id 1, got %d", snap.RecordID)
		}
		if snap.OldFK == nil || *snap.OldFK != 100 {
			t.Errorf("expected old fk 100, got %v", snap.OldFK)
		}
		if snap.Key.ClubName != "Tennaqua" || snap.Key.SeriesName != "Series 22" {
			t.Errorf("unexpected captured key: %s", snap.Key)
		}
		if snap.UserID == nil || *snap.UserID != 10 {
			t.Errorf("expected user id 10, got %v", snap.UserID)
		}
		if snap.Content != "Who is in for Saturday?" {
			t.Errorf("unexpected content: %q", snap.Content)
		}
	})

	t.Run("Capture completes on a single-connection pool", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		for i := 2; i <= 60; i++ {
			ht.Exec(t, db, `INSERT INTO polls (id, team_id, created_by, question) VALUES (?, 100, 10, 'Poll ' || ?)`, i, i)
		}

		repo := NewBackupRepository(db)
		if err := repo.Reset(pollsTable); err != nil {
			t.Fatalf("failed to reset backup table: %v", err)
		}

		// The pool holds exactly one connection, so the capture must finish
		// reading the live table before it opens the insert transaction.
		count, err := repo.Capture(pollsTable, "run-1")
		if err != nil {
			t.Fatalf("failed to capture polls: %v", err)
		}
		if count != 60 {
			t.Fatalf("expected 60 polls captured, got %d", count)
		}
	})

	t.Run("Capture is total for pre-existing orphans", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		ht.Exec(t, db, `INSERT INTO polls (id, team_id, created_by, question) VALUES (2, 9999, 10, 'Orphaned before the run')`)

		repo := NewBackupRepository(db)
		if err := repo.Reset(pollsTable); err != nil {
			t.Fatalf("failed to reset backup table: %v", err)
		}

		count, err := repo.Capture(pollsTable, "run-1")
		if err != nil {
			t.Fatalf("failed to capture polls: %v", err)
		}
		if count != 2 {
			t.Fatalf("expected 2 polls captured, got %d", count)
		}

		snaps, err := repo.Snapshots(pollsTable, "run-1")
		if err != nil {
			t.Fatalf("failed to read snapshots: %v", err)
		}

		var orphan *models.SnapshotRecord
		for i := range snaps {
			if snaps[i].RecordID == 2 {
				orphan = &snaps[i]
			}
		}
		if orphan == nil {
			t.Fatal("orphaned poll missing from backup")
		}
		if !orphan.Orphaned() {
			t.Errorf("expected empty natural key, got %s", orphan.Key)
		}
	})

	t.Run("Capture never mutates live tables", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)

		before := ht.Count(t, db, "SELECT COUNT(*) FROM polls")

		repo := NewBackupRepository(db)
		if err := repo.Reset(pollsTable); err != nil {
			t.Fatalf("failed to reset backup table: %v", err)
		}
		if _, err := repo.Capture(pollsTable, "run-1"); err != nil {
			t.Fatalf("failed to capture polls: %v", err)
		}

		after := ht.Count(t, db, "SELECT COUNT(*) FROM polls")
		if before != after {
			t.Errorf("live polls changed during backup: %d -> %d", before, after)
		}
	})

	t.Run("Reset is idempotent", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)

		repo := NewBackupRepository(db)
		for i := 0; i < 2; i++ {
			if err := repo.Reset(pollsTable); err != nil {
				t.Fatalf("reset %d failed: %v", i, err)
			}
		}
		if _, err := repo.Capture(pollsTable, "run-1"); err != nil {
			t.Fatalf("capture after double reset failed: %v", err)
		}
	})

	t.Run("Drop", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)

		repo := NewBackupRepository(db)
		if err := repo.Reset(pollsTable); err != nil {
			t.Fatalf("failed to reset backup table: %v", err)
		}
		if err := repo.Drop(pollsTable); err != nil {
			t.Fatalf("failed to drop backup table: %v", err)
		}

		if _, err := repo.Snapshots(pollsTable, "run-1"); err == nil {
			t.Error("expected error reading dropped backup table")
		}
	})
}

func TestRunRepository(t *testing.T) {
	t.Run("Start Finish Latest", func(t *testing.T) {
		db := ht.SetupDB(t)

		repo := NewRunRepository(db)
		if err := repo.Start("run-1"); err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		if err := repo.Finish("run-1", models.StatusHealthy, 98.5, `{"polls": 3}`); err != nil {
			t.Fatalf("failed to finish run: %v", err)
		}

		run, err := repo.Latest()
		if err != nil {
			t.Fatalf("failed to load latest run: %v", err)
		}
		if run.ID != "run-1" || run.Status != models.StatusHealthy {
			t.Errorf("unexpected run: %+v", run)
		}
		if run.OverallScore != 98.5 {
			t.Errorf("expected score 98.5, got %f", run.OverallScore)
		}
		if run.FinishedAt == nil {
			t.Error("expected finished timestamp")
		}
	})

	t.Run("Latest with no runs", func(t *testing.T) {
		db := ht.SetupDB(t)

		repo := NewRunRepository(db)
		if _, err := repo.Latest(); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Lock is exclusive", func(t *testing.T) {
		db := ht.SetupDB(t)

		repo := NewRunRepository(db)
		release, err := repo.AcquireLock("run-1")
		if err != nil {
			t.Fatalf("failed to acquire lock: %v", err)
		}

		if _, err := repo.AcquireLock("run-2"); !errors.Is(err, shared.ErrRunLocked) {
			t.Errorf("expected ErrRunLocked, got %v", err)
		}

		if err := release(); err != nil {
			t.Fatalf("failed to release lock: %v", err)
		}

		release2, err := repo.AcquireLock("run-2")
		if err != nil {
			t.Fatalf("failed to acquire lock after release: %v", err)
		}
		if err := release2(); err != nil {
			t.Fatalf("failed to release lock: %v", err)
		}
	})

	t.Run("BreakLock", func(t *testing.T) {
		db := ht.SetupDB(t)

		repo := NewRunRepository(db)
		if _, err := repo.AcquireLock("run-1"); err != nil {
			t.Fatalf("failed to acquire lock: %v", err)
		}
		if err := repo.BreakLock(); err != nil {
			t.Fatalf("failed to break lock: %v", err)
		}
		release, err := repo.AcquireLock("run-2")
		if err != nil {
			t.Fatalf("failed to acquire lock after break: %v", err)
		}
		release()
	})

	t.Run("SessionVersion", func(t *testing.T) {
		db := ht.SetupDB(t)

		repo := NewRunRepository(db)
		v0, err := repo.SessionVersion()
		if err != nil {
			t.Fatalf("failed to read session version: %v", err)
		}

		v1, err := repo.BumpSessionVersion()
		if err != nil {
			t.Fatalf("failed to bump session version: %v", err)
		}
		if v1 != v0+1 {
			t.Errorf("expected version %d, got %d", v0+1, v1)
		}
	})
}
