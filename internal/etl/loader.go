package etl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/halfcourt/refguard/internal/scrape"
	"github.com/halfcourt/refguard/internal/shared"
	"golang.org/x/time/rate"
)

// loadOrder lists reference tables parent-first. Upserts run in this order so
// every scalar subselect for a parent id resolves; stale deletes run reversed.
var loadOrder = []string{"leagues", "clubs", "series", "teams", "players"}

// Loader upserts scraped reference data by natural key. Rows whose natural key
// already exists keep their surrogate id; only genuinely new entities get new
// ids, and entities absent from the scrape are removed afterwards.
type Loader struct {
	db      *sql.DB
	cfg     shared.LoaderConfig
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewLoader creates a Loader. Batches are paced by cfg.BatchesPerSecond to keep
// the database responsive to readers during a load.
func NewLoader(db *sql.DB, cfg shared.LoaderConfig, logger *log.Logger) *Loader {
	bps := cfg.BatchesPerSecond
	if bps <= 0 {
		bps = 10
	}
	return &Loader{
		db:      db,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(bps), 1),
		logger:  logger,
	}
}

// TableLoad holds per-table load counters.
type TableLoad struct {
	Preserved int `json:"preserved"` // existing natural key, id kept
	Created   int `json:"created"`   // new natural key, new id
	Failed    int `json:"failed"`    // rows skipped after batch and row retries
	Removed   int `json:"removed"`   // stale rows deleted post-load
}

// LoadReport aggregates load counters across all reference tables.
type LoadReport struct {
	Tables map[string]*TableLoad `json:"tables"`
}

// Totals sums the per-table counters.
func (r *LoadReport) Totals() TableLoad {
	var t TableLoad
	for _, tl := range r.Tables {
		t.Preserved += tl.Preserved
		t.Created += tl.Created
		t.Failed += tl.Failed
		t.Removed += tl.Removed
	}
	return t
}

// upsertRow is one prepared statement invocation: the args feed the table's
// upsert SQL, which returns the surviving surrogate id.
type upsertRow struct {
	args []any
}

// Load upserts the scrape document into the reference tables and removes rows
// no longer present in the scrape. The caller is expected to have run the
// guardian first; the upserts assume the natural-key unique indexes exist.
func (l *Loader) Load(ctx context.Context, doc *scrape.Document, progress chan<- ProgressUpdate) (*LoadReport, error) {
	report := &LoadReport{Tables: make(map[string]*TableLoad, len(loadOrder))}
	seen := make(map[string][]int64, len(loadOrder))

	for i, table := range loadOrder {
		if progress != nil {
			progress <- loadUpdate(i+1, len(loadOrder), table)
		}

		rows, upsert := l.tableRows(doc, table)
		tl := &TableLoad{}
		report.Tables[table] = tl

		maxBefore, err := l.maxID(table)
		if err != nil {
			return report, err
		}

		ids, err := l.loadTable(ctx, table, upsert, rows, maxBefore, tl)
		if err != nil {
			return report, err
		}
		seen[table] = ids

		l.logger.Info("loaded reference table",
			"table", table, "preserved", tl.Preserved, "created", tl.Created, "failed", tl.Failed)
	}

	// Delete reference rows absent from this scrape, children first.
	for i := len(loadOrder) - 1; i >= 0; i-- {
		table := loadOrder[i]
		removed, err := l.removeStale(ctx, table, seen[table])
		if err != nil {
			return report, err
		}
		report.Tables[table].Removed = removed
		if removed > 0 {
			l.logger.Info("removed stale reference rows", "table", table, "removed", removed)
		}
	}

	return report, nil
}

// DryRun reports what Load would do without writing: per table, how many scrape
// rows would hit an existing natural key, how many would insert, and how many
// live rows would be removed as stale.
func (l *Loader) DryRun(ctx context.Context, doc *scrape.Document) (*LoadReport, error) {
	report := &LoadReport{Tables: make(map[string]*TableLoad, len(loadOrder))}

	for _, table := range loadOrder {
		rows, _ := l.tableRows(doc, table)
		tl := &TableLoad{}
		report.Tables[table] = tl

		exists := existsQueries[table]
		for _, row := range rows {
			var found bool
			args := existsArgs(table, row.args)
			if err := l.db.QueryRowContext(ctx, exists, args...).Scan(&found); err != nil {
				return report, fmt.Errorf("failed to probe %s: %w", table, err)
			}
			if found {
				tl.Preserved++
			} else {
				tl.Created++
			}
		}

		if len(rows) > 0 {
			var live int
			if err := l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&live); err != nil {
				return report, fmt.Errorf("failed to count %s: %w", table, err)
			}
			if stale := live - tl.Preserved; stale > 0 {
				tl.Removed = stale
			}
		}
	}

	return report, nil
}

// existsQueries probe whether a scrape row's natural key is already present.
var existsQueries = map[string]string{
	"leagues": "SELECT EXISTS (SELECT 1 FROM leagues WHERE league_id = ?)",
	"clubs":   "SELECT EXISTS (SELECT 1 FROM clubs WHERE name = ?)",
	"series": `SELECT EXISTS (
		SELECT 1 FROM series s JOIN leagues lg ON s.league_id = lg.id
		WHERE s.name = ? AND lg.league_id = ?)`,
	"teams": `SELECT EXISTS (
		SELECT 1 FROM teams t
		JOIN clubs c ON t.club_id = c.id
		JOIN series s ON t.series_id = s.id
		JOIN leagues lg ON t.league_id = lg.id
		WHERE c.name = ? AND s.name = ? AND lg.league_id = ?)`,
	"players": `SELECT EXISTS (
		SELECT 1 FROM players p JOIN leagues lg ON p.league_id = lg.id
		WHERE p.ext_player_id = ? AND lg.league_id = ?)`,
}

// existsArgs picks the natural-key arguments for a table's exists probe out of
// the full upsert argument list.
func existsArgs(table string, args []any) []any {
	switch table {
	case "leagues":
		return args[:1]
	case "clubs":
		return args[:1]
	case "series":
		return args[:2]
	case "teams":
		// club name, series name, league id
		return []any{args[0], args[1], args[2]}
	case "players":
		return args[:2]
	}
	return nil
}

// loadTable runs the table's upserts in rate-limited batches, falling back to
// row-by-row execution when a batch keeps failing.
func (l *Loader) loadTable(ctx context.Context, table, upsert string, rows []upsertRow, maxBefore int64, tl *TableLoad) ([]int64, error) {
	batchSize := l.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	ids := make([]int64, 0, len(rows))
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		if err := l.limiter.Wait(ctx); err != nil {
			return ids, err
		}

		err := withRetry(ctx, l.cfg.MaxRetries, func() error {
			batchIDs, err := l.upsertBatch(ctx, upsert, batch)
			if err != nil {
				return err
			}
			ids = append(ids, batchIDs...)
			return nil
		})
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ids, ctx.Err()
		}

		// The batch transaction rolled back whole. Replay its rows one at a
		// time so a single bad row only costs itself.
		l.logger.Warn("batch failed, replaying row by row", "table", table, "rows", len(batch), "error", err)
		for _, row := range batch {
			var id int64
			rowErr := withRetry(ctx, l.cfg.MaxRetries, func() error {
				return l.db.QueryRowContext(ctx, upsert, row.args...).Scan(&id)
			})
			if rowErr != nil {
				tl.Failed++
				l.logger.Error("skipping unloadable row", "table", table, "error", rowErr)
				continue
			}
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		if id > maxBefore {
			tl.Created++
		} else {
			tl.Preserved++
		}
	}
	return ids, nil
}

// upsertBatch runs one batch inside a transaction and returns the surviving ids.
func (l *Loader) upsertBatch(ctx context.Context, upsert string, batch []upsertRow) ([]int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin batch: %v", shared.ErrBatchRetryable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(batch))
	for _, row := range batch {
		var id int64
		if err := stmt.QueryRowContext(ctx, row.args...).Scan(&id); err != nil {
			return nil, fmt.Errorf("upsert failed: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit batch: %v", shared.ErrBatchRetryable, err)
	}
	return ids, nil
}

// removeStale deletes rows whose id was not touched by this load.
func (l *Loader) removeStale(ctx context.Context, table string, keep []int64) (int, error) {
	if len(keep) == 0 {
		// An empty collection means the scrape carried no rows for this table;
		// wiping it wholesale is never what the operator wants.
		l.logger.Warn("scrape carried no rows, keeping existing data", "table", table)
		return 0, nil
	}

	// Chunked NOT IN keeps the statement under SQLite's parameter limit.
	const chunk = 500
	removed := 0

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin stale delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"CREATE TEMP TABLE IF NOT EXISTS load_keep (id INTEGER PRIMARY KEY)"); err != nil {
		return 0, fmt.Errorf("failed to create keep table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM load_keep"); err != nil {
		return 0, fmt.Errorf("failed to reset keep table: %w", err)
	}

	for start := 0; start < len(keep); start += chunk {
		end := start + chunk
		if end > len(keep) {
			end = len(keep)
		}
		placeholders := make([]string, 0, end-start)
		args := make([]any, 0, end-start)
		for _, id := range keep[start:end] {
			placeholders = append(placeholders, "(?)")
			args = append(args, id)
		}
		insert := fmt.Sprintf("INSERT OR IGNORE INTO load_keep (id) VALUES %s", strings.Join(placeholders, ", "))
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return 0, fmt.Errorf("failed to fill keep table: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE id NOT IN (SELECT id FROM load_keep)", table))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale rows from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit stale delete: %w", err)
	}
	removed = int(n)
	return removed, nil
}

func (l *Loader) maxID(table string) (int64, error) {
	var max sql.NullInt64
	if err := l.db.QueryRow(fmt.Sprintf("SELECT MAX(id) FROM %s", table)).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read max id of %s: %w", table, err)
	}
	return max.Int64, nil
}

// tableRows materializes one table's upsert statement and argument rows from
// the scrape document. Parent rows are referenced by natural key through
// scalar subselects so the loader never tracks surrogate ids across tables.
func (l *Loader) tableRows(doc *scrape.Document, table string) ([]upsertRow, string) {
	switch table {
	case "leagues":
		rows := make([]upsertRow, 0, len(doc.Leagues))
		for _, lg := range doc.Leagues {
			rows = append(rows, upsertRow{args: []any{lg.LeagueID, lg.LeagueName, emptyNull(lg.LeagueURL)}})
		}
		return rows, `
			INSERT INTO leagues (league_id, league_name, league_url)
			VALUES (?, ?, ?)
			ON CONFLICT (league_id) DO UPDATE SET
				league_name = excluded.league_name,
				league_url = excluded.league_url
			RETURNING id`

	case "clubs":
		rows := make([]upsertRow, 0, len(doc.Clubs))
		for _, c := range doc.Clubs {
			rows = append(rows, upsertRow{args: []any{c.Name, emptyNull(c.Address)}})
		}
		return rows, `
			INSERT INTO clubs (name, address)
			VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET
				address = COALESCE(excluded.address, clubs.address)
			RETURNING id`

	case "series":
		rows := make([]upsertRow, 0, len(doc.Series))
		for _, s := range doc.Series {
			rows = append(rows, upsertRow{args: []any{s.Name, s.LeagueID}})
		}
		return rows, `
			INSERT INTO series (name, league_id)
			VALUES (?, (SELECT id FROM leagues WHERE league_id = ?))
			ON CONFLICT (name, league_id) DO UPDATE SET
				name = excluded.name
			RETURNING id`

	case "teams":
		rows := make([]upsertRow, 0, len(doc.Teams))
		for _, t := range doc.Teams {
			rows = append(rows, upsertRow{args: []any{
				t.ClubName,
				t.SeriesName, t.LeagueID,
				t.LeagueID,
				t.TeamName, emptyNull(t.TeamAlias), t.IsActive,
			}})
		}
		return rows, `
			INSERT INTO teams (club_id, series_id, league_id, team_name, team_alias, is_active)
			VALUES (
				(SELECT id FROM clubs WHERE name = ?),
				(SELECT s.id FROM series s JOIN leagues lg ON s.league_id = lg.id WHERE s.name = ? AND lg.league_id = ?),
				(SELECT id FROM leagues WHERE league_id = ?),
				?, ?, ?
			)
			ON CONFLICT (club_id, series_id, league_id) DO UPDATE SET
				team_name = excluded.team_name,
				team_alias = excluded.team_alias,
				is_active = excluded.is_active
			RETURNING id`

	case "players":
		rows := make([]upsertRow, 0, len(doc.Players))
		for _, p := range doc.Players {
			rows = append(rows, upsertRow{args: []any{
				p.ExtPlayerID, p.LeagueID,
				emptyNull(p.FirstName), emptyNull(p.LastName),
				emptyNull(p.ClubName),
				emptyNull(p.SeriesName), p.LeagueID,
				emptyNull(p.ClubName), emptyNull(p.SeriesName), p.LeagueID,
			}})
		}
		return rows, `
			INSERT INTO players (ext_player_id, league_id, first_name, last_name, club_id, series_id, team_id)
			VALUES (
				?, (SELECT id FROM leagues WHERE league_id = ?),
				?, ?,
				(SELECT id FROM clubs WHERE name = ?),
				(SELECT s.id FROM series s JOIN leagues lg ON s.league_id = lg.id WHERE s.name = ? AND lg.league_id = ?),
				(SELECT t.id FROM teams t
					JOIN clubs c ON t.club_id = c.id
					JOIN series s ON t.series_id = s.id
					JOIN leagues lg ON t.league_id = lg.id
					WHERE c.name = ? AND s.name = ? AND lg.league_id = ?)
			)
			ON CONFLICT (ext_player_id, league_id) DO UPDATE SET
				first_name = COALESCE(excluded.first_name, players.first_name),
				last_name = COALESCE(excluded.last_name, players.last_name),
				club_id = excluded.club_id,
				series_id = excluded.series_id,
				team_id = excluded.team_id
			RETURNING id`
	}
	return nil, ""
}

// emptyNull maps "" to SQL NULL so optional scrape fields store as NULL.
func emptyNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
