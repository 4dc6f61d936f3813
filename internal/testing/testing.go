// package testing contains shared testing utilities
package testing

import (
	"database/sql"
	"errors"
	"io"
	"testing"

	"github.com/halfcourt/refguard/internal/shared"
)

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// SetupDB creates an in-memory SQLite database with migrations applied. The
// connection pool is pinned to a single connection so every query sees the same
// in-memory database.
func SetupDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	shared.ConfigureDatabase(db, 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// Exec runs an SQL statement, failing the test on error.
func Exec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("failed to exec %q: %v", query, err)
	}
}

// Count returns the number of rows a query yields, failing the test on error.
func Count(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("failed to count %q: %v", query, err)
	}
	return n
}

// SeedReference loads a small but realistic reference dataset:
//
//	league 1  APTA_CHICAGO
//	clubs  1 Tennaqua, 2 Winnetka
//	series 1 "Series 22", 2 "Series 2B"
//	teams  100 Tennaqua 22 (alias 22), 101 Tennaqua 2B (alias 2B), 102 Winnetka 22
//	players 200 nndz-1001 (team 100), 201 nndz-1002 (team 101)
func SeedReference(t *testing.T, db *sql.DB) {
	t.Helper()

	Exec(t, db, `INSERT INTO leagues (id, league_id, league_name) VALUES (1, 'APTA_CHICAGO', 'APTA Chicago')`)
	Exec(t, db, `INSERT INTO clubs (id, name) VALUES (1, 'Tennaqua'), (2, 'Winnetka')`)
	Exec(t, db, `INSERT INTO series (id, name, league_id) VALUES (1, 'Series 22', 1), (2, 'Series 2B', 1)`)
	Exec(t, db, `
		INSERT INTO teams (id, club_id, series_id, league_id, team_name, team_alias, is_active) VALUES
			(100, 1, 1, 1, 'Tennaqua 22', '22', 1),
			(101, 1, 2, 1, 'Tennaqua 2B', '2B', 1),
			(102, 2, 1, 1, 'Winnetka 22', '22', 1)
	`)
	Exec(t, db, `
		INSERT INTO players (id, ext_player_id, first_name, last_name, league_id, club_id, series_id, team_id) VALUES
			(200, 'nndz-1001', 'Ross', 'Freedman', 1, 1, 1, 100),
			(201, 'nndz-1002', 'Mike', 'Lieberman', 1, 1, 2, 101)
	`)
}

// SeedUserData loads user-owned rows referencing the SeedReference dataset:
//
//	user 10 (league_context 1) associated with player 200 (team 100)
//	poll 1 on team 100, captain message 1 on team 101, practice time 1 on team 100
//	availability 1 for player 200
func SeedUserData(t *testing.T, db *sql.DB) {
	t.Helper()

	Exec(t, db, `INSERT INTO users (id, email, first_name, last_name, league_context) VALUES (10, 'captain@example.com', 'Ross', 'Freedman', 1)`)
	Exec(t, db, `INSERT INTO user_player_associations (id, user_id, player_id, is_primary) VALUES (1, 10, 200, 1)`)
	Exec(t, db, `INSERT INTO polls (id, team_id, created_by, question) VALUES (1, 100, 10, 'Who is in for Saturday?')`)
	Exec(t, db, `INSERT INTO captain_messages (id, team_id, captain_user_id, message) VALUES (1, 101, 10, 'Series 2B practice moved to 7pm')`)
	Exec(t, db, `INSERT INTO practice_times (id, team_id, league_id, created_by, day_of_week, start_time) VALUES (1, 100, 1, 10, 'Saturday', '08:00')`)
	Exec(t, db, `INSERT INTO availability (id, user_id, player_id, match_date, status) VALUES (1, 10, 200, '2025-01-11', 'available')`)
}
