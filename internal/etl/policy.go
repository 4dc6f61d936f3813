package etl

import (
	"fmt"

	"github.com/halfcourt/refguard/internal/repositories"
	"github.com/halfcourt/refguard/internal/shared"
)

// ProtectionPolicy is the explicit configuration driving the pipeline: which user
// tables are protected, how each foreign key may be repaired, and in what order.
// There is no hidden global state; the policy is passed into the pipeline
// constructor and threaded through every phase.
type ProtectionPolicy struct {
	Tables []shared.ProtectedTable
}

// PolicyFromConfig builds a ProtectionPolicy from the loaded configuration.
func PolicyFromConfig(cfg *shared.Config) ProtectionPolicy {
	return ProtectionPolicy{Tables: cfg.Protection.Tables}
}

// Validate checks every policy entry references a known reference table.
func (p ProtectionPolicy) Validate() error {
	if len(p.Tables) == 0 {
		return fmt.Errorf("%w: protection policy declares no tables", shared.ErrInvalidConfig)
	}
	for _, pt := range p.Tables {
		if _, _, err := repositories.KeyQuery(pt.References); err != nil {
			return fmt.Errorf("%w: protected table %s references %s", shared.ErrInvalidConfig, pt.Name, pt.References)
		}
	}
	return nil
}

// fkRef names one foreign-key column pointing at a reference table.
type fkRef struct {
	table  string
	column string
}

// referencingFKs maps each reference table to every column in the schema that
// points at it. The guardian consults this when merging duplicate rows so no
// foreign key is left pointing at a removed duplicate.
var referencingFKs = map[string][]fkRef{
	"leagues": {
		{"series", "league_id"},
		{"teams", "league_id"},
		{"players", "league_id"},
		{"practice_times", "league_id"},
		{"users", "league_context"},
	},
	"clubs": {
		{"teams", "club_id"},
		{"players", "club_id"},
	},
	"series": {
		{"teams", "series_id"},
		{"players", "series_id"},
	},
	"teams": {
		{"players", "team_id"},
		{"polls", "team_id"},
		{"captain_messages", "team_id"},
		{"practice_times", "team_id"},
	},
	"players": {
		{"availability", "player_id"},
		{"user_player_associations", "player_id"},
	},
}
