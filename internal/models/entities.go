package models

import "strings"

// NaturalKey is the stable attribute tuple identifying a reference entity across
// reloads, independent of its surrogate id. Fields not applicable to a given
// entity type are left empty: a league carries only LeagueID, a team carries
// league, club, series and name/alias, a player carries ExtPlayerID and league.
type NaturalKey struct {
	LeagueID    string `json:"league_id,omitempty"`
	ClubName    string `json:"club_name,omitempty"`
	SeriesName  string `json:"series_name,omitempty"`
	TeamName    string `json:"team_name,omitempty"`
	TeamAlias   string `json:"team_alias,omitempty"`
	ExtPlayerID string `json:"ext_player_id,omitempty"`
}

// Empty reports whether no component of the key was captured. A snapshot with an
// empty key was already orphaned at backup time.
func (k NaturalKey) Empty() bool {
	return k.LeagueID == "" && k.ClubName == "" && k.SeriesName == "" &&
		k.TeamName == "" && k.TeamAlias == "" && k.ExtPlayerID == ""
}

// String renders the key for logs, skipping empty components.
func (k NaturalKey) String() string {
	parts := make([]string, 0, 6)
	for _, p := range []struct{ label, v string }{
		{"league", k.LeagueID},
		{"club", k.ClubName},
		{"series", k.SeriesName},
		{"team", k.TeamName},
		{"alias", k.TeamAlias},
		{"player", k.ExtPlayerID},
	} {
		if p.v != "" {
			parts = append(parts, p.label+"="+p.v)
		}
	}
	if len(parts) == 0 {
		return "(empty)"
	}
	return strings.Join(parts, " ")
}

// EntityRef is a live reference row as seen by the mapping resolver: the current
// surrogate id plus the natural key and enough context for tie-breaking.
type EntityRef struct {
	ID     int64      // current surrogate id
	Table  string     // reference table the row lives in
	Key    NaturalKey // natural key of the row
	Active bool       // has a current-season assignment, used for tie-breaks
}
