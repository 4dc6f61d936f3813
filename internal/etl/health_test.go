package etl

import (
	"io"
	"testing"

	"github.com/halfcourt/refguard/internal/models"
	"github.com/halfcourt/refguard/internal/shared"
	ht "github.com/halfcourt/refguard/internal/testing"
)

func TestValidator(t *testing.T) {
	t.Run("intact tables are healthy", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)

		v := NewValidator(db, shared.NewLogger(io.Discard))
		policy := &ProtectionPolicy{Tables: []shared.ProtectedTable{pollsPT, captainPT, practicePT, associationsPT}}
		report, err := v.Report(policy)
		if err != nil {
			t.Fatalf("validation failed: %v", err)
		}

		if report.Status != models.StatusHealthy {
			t.Errorf("expected healthy, got %s", report.Status)
		}
		if report.OverallScore != 100 {
			t.Errorf("expected score 100, got %.1f", report.OverallScore)
		}
	})

	t.Run("empty tables score 100", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)

		v := NewValidator(db, shared.NewLogger(io.Discard))
		policy := &ProtectionPolicy{Tables: []shared.ProtectedTable{pollsPT}}
		report, err := v.Report(policy)
		if err != nil {
			t.Fatalf("validation failed: %v", err)
		}
		if report.Tables[0].Score != 100 || report.Status != models.StatusHealthy {
			t.Errorf("empty table should be healthy, got %+v", report.Tables[0])
		}
	})

	t.Run("allowed nulls do not reduce the score", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		ht.Exec(t, db, `INSERT INTO polls (id, team_id, created_by, question) VALUES (2, NULL, 10, 'Quarantined')`)

		v := NewValidator(db, shared.NewLogger(io.Discard))
		policy := &ProtectionPolicy{Tables: []shared.ProtectedTable{pollsPT}}
		report, err := v.Report(policy)
		if err != nil {
			t.Fatalf("validation failed: %v", err)
		}

		th := report.Tables[0]
		if th.Null != 1 || th.Orphaned != 0 || th.Score != 100 {
			t.Errorf("unexpected table health: %+v", th)
		}
	})

	t.Run("dangling reference scores zero", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		ht.Exec(t, db, `UPDATE captain_messages SET team_id = 999 WHERE id = 1`)

		v := NewValidator(db, shared.NewLogger(io.Discard))
		policy := &ProtectionPolicy{Tables: []shared.ProtectedTable{captainPT}}
		report, err := v.Report(policy)
		if err != nil {
			t.Fatalf("validation failed: %v", err)
		}

		th := report.Tables[0]
		if th.Orphaned != 1 || th.Score != 0 {
			t.Errorf("unexpected table health: %+v", th)
		}
		if report.Status != models.StatusCritical {
			t.Errorf("expected critical, got %s", report.Status)
		}
	})

	t.Run("one critical table blocks the run", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)

		// polls stays perfect; captain_messages drops to 50%.
		ht.Exec(t, db, `INSERT INTO captain_messages (id, team_id, captain_user_id, message) VALUES (2, 999, 10, 'dead')`)

		v := NewValidator(db, shared.NewLogger(io.Discard))
		policy := &ProtectionPolicy{Tables: []shared.ProtectedTable{pollsPT, captainPT}}
		report, err := v.Report(policy)
		if err != nil {
			t.Fatalf("validation failed: %v", err)
		}

		if report.Status != models.StatusCritical {
			t.Errorf("a 50%% table must force critical, got %s", report.Status)
		}
		if report.OverallScore <= 50 || report.OverallScore >= 100 {
			t.Errorf("overall should sit between the table scores, got %.1f", report.OverallScore)
		}
	})

	t.Run("warning band", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)

		// 8 valid + 2 orphaned = 80%, inside the 75-89 warning band.
		for i := 2; i <= 9; i++ {
			ht.Exec(t, db, `INSERT INTO polls (id, team_id, created_by, question) VALUES (?, 100, 10, 'q')`, i)
		}
		ht.Exec(t, db, `INSERT INTO polls (id, team_id, created_by, question) VALUES (10, 999, 10, 'q'), (11, 998, 10, 'q')`)

		v := NewValidator(db, shared.NewLogger(io.Discard))
		policy := &ProtectionPolicy{Tables: []shared.ProtectedTable{pollsPT}}
		report, err := v.Report(policy)
		if err != nil {
			t.Fatalf("validation failed: %v", err)
		}

		th := report.Tables[0]
		if th.Total != 11 || th.Orphaned != 2 {
			t.Fatalf("unexpected counts: %+v", th)
		}
		if report.Status != models.StatusWarning {
			t.Errorf("expected warning, got %s (score %.1f)", report.Status, th.Score)
		}
	})

	t.Run("weights shape the overall score", func(t *testing.T) {
		db := ht.SetupDB(t)
		ht.SeedReference(t, db)
		ht.SeedUserData(t, db)
		ht.Exec(t, db, `INSERT INTO captain_messages (id, team_id, captain_user_id, message) VALUES (2, 999, 10, 'dead')`)

		heavy := captainPT
		heavy.Weight = 3

		v := NewValidator(db, shared.NewLogger(io.Discard))
		lightReport, err := v.Report(&ProtectionPolicy{Tables: []shared.ProtectedTable{pollsPT, captainPT}})
		if err != nil {
			t.Fatalf("validation failed: %v", err)
		}
		heavyReport, err := v.Report(&ProtectionPolicy{Tables: []shared.ProtectedTable{pollsPT, heavy}})
		if err != nil {
			t.Fatalf("validation failed: %v", err)
		}

		if heavyReport.OverallScore >= lightReport.OverallScore {
			t.Errorf("heavier weight on the bad table should pull the overall down: %.1f vs %.1f",
				heavyReport.OverallScore, lightReport.OverallScore)
		}
	})
}
