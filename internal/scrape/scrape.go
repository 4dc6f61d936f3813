package scrape

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/halfcourt/refguard/internal/shared"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/*.json
var schemaFiles embed.FS

// League is the canonical league shape from leagues.json.
type League struct {
	LeagueID   string `json:"league_id"` // stable string identifier, e.g. "APTA_CHICAGO"
	LeagueName string `json:"league_name"`
	LeagueURL  string `json:"league_url,omitempty"`
}

// Club is the canonical club shape from clubs.json.
type Club struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// Series is the canonical series shape from series.json.
type Series struct {
	Name     string `json:"name"`
	LeagueID string `json:"league_id"`
}

// Team is the canonical team shape from teams.json.
type Team struct {
	LeagueID   string `json:"league_id"`
	ClubName   string `json:"club_name"`
	SeriesName string `json:"series_name"`
	TeamName   string `json:"team_name"`
	TeamAlias  string `json:"team_alias,omitempty"` // short form, e.g. "2B"
	IsActive   bool   `json:"is_active"`
}

// Player is the canonical player shape from players.json.
type Player struct {
	ExtPlayerID string `json:"ext_player_id"` // scraper-side stable identifier
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	LeagueID    string `json:"league_id"`
	ClubName    string `json:"club_name,omitempty"`
	SeriesName  string `json:"series_name,omitempty"`
	TeamName    string `json:"team_name,omitempty"`
}

// Document holds one scrape's worth of decoded, validated reference data.
type Document struct {
	Leagues []League
	Clubs   []Club
	Series  []Series
	Teams   []Team
	Players []Player
}

// collection describes one expected file in the import directory.
type collection struct {
	file     string
	schema   string
	optional bool
}

var collections = []collection{
	{file: "leagues.json", schema: "schema/leagues.json"},
	{file: "clubs.json", schema: "schema/clubs.json", optional: true},
	{file: "series.json", schema: "schema/series.json"},
	{file: "teams.json", schema: "schema/teams.json"},
	{file: "players.json", schema: "schema/players.json"},
}

// Load reads every collection from dir, validates it against its embedded schema, and
// decodes it into canonical structs. A missing optional collection is derived or skipped;
// a missing required collection or a schema violation is a pre-flight failure.
func Load(dir string) (*Document, error) {
	doc := &Document{}

	for _, c := range collections {
		path := filepath.Join(dir, c.file)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) && c.optional {
				continue
			}
			return nil, fmt.Errorf("%w: %s: %v", shared.ErrMissingScrape, c.file, err)
		}

		if err := validate(c.schema, c.file, data); err != nil {
			return nil, err
		}

		switch c.file {
		case "leagues.json":
			err = json.Unmarshal(data, &doc.Leagues)
		case "clubs.json":
			err = json.Unmarshal(data, &doc.Clubs)
		case "series.json":
			err = json.Unmarshal(data, &doc.Series)
		case "teams.json":
			err = json.Unmarshal(data, &doc.Teams)
		case "players.json":
			err = json.Unmarshal(data, &doc.Players)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", shared.ErrInvalidScrape, c.file, err)
		}
	}

	if len(doc.Clubs) == 0 {
		doc.Clubs = deriveClubs(doc.Teams, doc.Players)
	}

	return doc, nil
}

// validate checks a raw document against its embedded JSON Schema.
func validate(schemaPath, name string, data []byte) error {
	schemaRaw, err := schemaFiles.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read embedded schema %s: %w", schemaPath, err)
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaRaw))
	if err != nil {
		return fmt.Errorf("failed to parse embedded schema %s: %w", schemaPath, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		return fmt.Errorf("failed to register schema %s: %w", name, err)
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrInvalidScrape, name, err)
	}

	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrInvalidScrape, name, err)
	}

	return nil
}

// deriveClubs builds the club collection from team and player club names when the
// scrapers ship no clubs.json.
func deriveClubs(teams []Team, players []Player) []Club {
	seen := make(map[string]bool)
	var clubs []Club

	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		clubs = append(clubs, Club{Name: name})
	}

	for _, t := range teams {
		add(t.ClubName)
	}
	for _, p := range players {
		add(p.ClubName)
	}

	return clubs
}
