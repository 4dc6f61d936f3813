package repositories

import (
	"database/sql"
	"fmt"

	"github.com/halfcourt/refguard/internal/models"
)

// EntityRepository reads live reference rows. It never writes; reloading reference
// data is the bulk loader's job.
type EntityRepository struct {
	db *sql.DB
}

// NewEntityRepository creates a new EntityRepository with the given database connection
func NewEntityRepository(db *sql.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

// LiveRefs returns every live row of the given reference table with its natural
// key and activity flag. The resolver loads this once per table and hands it to
// the match strategies as the candidate set.
func (r *EntityRepository) LiveRefs(ref string) ([]models.EntityRef, error) {
	keySelect, joins, err := KeyQuery(ref)
	if err != nil {
		return nil, err
	}
	active, err := activeExpr(ref)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT e.id, %s, %s FROM %s e %s", keySelect, active, ref, joins)

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query live %s: %w", ref, err)
	}
	defer rows.Close()

	var refs []models.EntityRef
	for rows.Next() {
		var id int64
		var isActive bool
		var league, club, series, team, alias, ext sql.NullString
		if err := rows.Scan(&id, &league, &club, &series, &team, &alias, &ext, &isActive); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", ref, err)
		}
		refs = append(refs, models.EntityRef{
			ID:     id,
			Table:  ref,
			Key:    scanKey(league, club, series, team, alias, ext),
			Active: isActive,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return refs, nil
}

// Exists reports whether id is a live row of the given reference table.
func (r *EntityRepository) Exists(ref string, id int64) (bool, error) {
	if _, _, err := KeyQuery(ref); err != nil {
		return false, err
	}

	var one int
	err := r.db.QueryRow(fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", ref), id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", ref, err)
	}
	return true, nil
}

// UserTeamIDs returns the distinct live team ids the user is currently associated
// with through player associations, scoped to the given league natural id when it
// is non-empty. Feeds the user-context fallback strategy.
func (r *EntityRepository) UserTeamIDs(userID int64, leagueID string) ([]int64, error) {
	query := `
		SELECT DISTINCT p.team_id
		FROM user_player_associations upa
		JOIN players p ON upa.player_id = p.id
		LEFT JOIN leagues lg ON p.league_id = lg.id
		WHERE upa.user_id = ? AND p.team_id IS NOT NULL
	`
	args := []any{userID}

	if leagueID != "" {
		query += " AND lg.league_id = ?"
		args = append(args, leagueID)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user team context: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan team id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return ids, nil
}
