package repositories

import (
	"database/sql"
	"fmt"

	"github.com/halfcourt/refguard/internal/models"
	"github.com/halfcourt/refguard/internal/shared"
)

// Natural keys are always selected as the same six nullable TEXT columns, in this
// order: league_id, club_name, series_name, team_name, team_alias, ext_player_id.
// Components not applicable to a reference table come back NULL.

// refDescriptor declares how to derive the canonical natural-key columns for one
// reference table, given the entity row aliased as "e".
type refDescriptor struct {
	keySelect string // six select expressions producing the canonical key columns
	joins     string // joins required by keySelect, from alias e
	activeSQL string // boolean expression marking current-season activity
}

var refDescriptors = map[string]refDescriptor{
	"leagues": {
		keySelect: "e.league_id, NULL, NULL, NULL, NULL, NULL",
		activeSQL: "1",
	},
	"clubs": {
		keySelect: "NULL, e.name, NULL, NULL, NULL, NULL",
		activeSQL: "1",
	},
	"series": {
		keySelect: "lg.league_id, NULL, e.name, NULL, NULL, NULL",
		joins:     "LEFT JOIN leagues lg ON e.league_id = lg.id",
		activeSQL: "1",
	},
	"teams": {
		keySelect: "lg.league_id, c.name, s.name, e.team_name, e.team_alias, NULL",
		joins: "LEFT JOIN clubs c ON e.club_id = c.id " +
			"LEFT JOIN series s ON e.series_id = s.id " +
			"LEFT JOIN leagues lg ON e.league_id = lg.id",
		activeSQL: "e.is_active",
	},
	"players": {
		keySelect: "lg.league_id, c.name, s.name, NULL, NULL, e.ext_player_id",
		joins: "LEFT JOIN leagues lg ON e.league_id = lg.id " +
			"LEFT JOIN clubs c ON e.club_id = c.id " +
			"LEFT JOIN series s ON e.series_id = s.id",
		activeSQL: "e.team_id IS NOT NULL",
	},
}

// KeyQuery returns the select expressions and joins deriving the canonical
// natural-key columns for a reference table, with the entity row aliased as "e".
// Both the snapshot and restore sides build their SQL through this function.
func KeyQuery(ref string) (keySelect, joins string, err error) {
	d, ok := refDescriptors[ref]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", shared.ErrTableUnknown, ref)
	}
	return d.keySelect, d.joins, nil
}

// activeExpr returns the current-season activity expression for a reference table.
func activeExpr(ref string) (string, error) {
	d, ok := refDescriptors[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", shared.ErrTableUnknown, ref)
	}
	return d.activeSQL, nil
}

// scanKey assembles a NaturalKey from the six canonical nullable columns.
func scanKey(league, club, series, team, alias, player sql.NullString) models.NaturalKey {
	return models.NaturalKey{
		LeagueID:    league.String,
		ClubName:    club.String,
		SeriesName:  series.String,
		TeamName:    team.String,
		TeamAlias:   alias.String,
		ExtPlayerID: player.String,
	}
}
