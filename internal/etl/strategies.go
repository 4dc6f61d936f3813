package etl

import (
	"regexp"
	"sort"
	"strings"

	"github.com/halfcourt/refguard/internal/models"
)

// MatchStrategy proposes candidate entities for one snapshot record. Strategies
// run in descending confidence order; the first one returning a single match
// wins, and a strategy returning several equally-good matches passes the
// decision down the chain.
type MatchStrategy interface {
	Name() string
	Confidence() int
	Match(rec models.SnapshotRecord, cands []models.EntityRef) []models.EntityRef
}

// exactKeyStrategy matches on the full captured natural key. This is the path
// every record takes when the upsert preserved its entity; anything below it is
// recovery for entities whose key changed between scrapes.
type exactKeyStrategy struct{}

func (exactKeyStrategy) Name() string    { return "exact_natural_key" }
func (exactKeyStrategy) Confidence() int { return 100 }

func (exactKeyStrategy) Match(rec models.SnapshotRecord, cands []models.EntityRef) []models.EntityRef {
	if rec.Key.Empty() {
		return nil
	}
	var out []models.EntityRef
	for _, c := range cands {
		if c.Key == rec.Key {
			out = append(out, c)
		}
	}
	return out
}

// aliasStrategy matches a team by alias within the snapshot's league, scoped to
// the club when the snapshot captured one. Aliases like "22" repeat across
// clubs, so the club scope is what keeps this strategy precise.
type aliasStrategy struct{}

func (aliasStrategy) Name() string    { return "alias_league" }
func (aliasStrategy) Confidence() int { return 90 }

func (aliasStrategy) Match(rec models.SnapshotRecord, cands []models.EntityRef) []models.EntityRef {
	alias := rec.Key.TeamAlias
	if alias == "" || rec.Key.LeagueID == "" {
		return nil
	}
	var out []models.EntityRef
	for _, c := range cands {
		if !strings.EqualFold(c.Key.TeamAlias, alias) || c.Key.LeagueID != rec.Key.LeagueID {
			continue
		}
		if rec.Key.ClubName != "" && c.Key.ClubName != rec.Key.ClubName {
			continue
		}
		out = append(out, c)
	}
	return out
}

var seriesTokenRe = regexp.MustCompile(`(?i)\bseries\s+([A-Za-z0-9]+)`)

// contentStrategy mines the record's free text for entity hints. A "Series 2B"
// mention narrows candidates to that series; a club or team name appearing in
// the text narrows further. Matches here are lower confidence than key-derived
// ones because user text is only circumstantial evidence.
type contentStrategy struct{}

func (contentStrategy) Name() string    { return "content_tokens" }
func (contentStrategy) Confidence() int { return 85 }

func (contentStrategy) Match(rec models.SnapshotRecord, cands []models.EntityRef) []models.EntityRef {
	text := rec.Content
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var seriesToken string
	if m := seriesTokenRe.FindStringSubmatch(text); m != nil {
		seriesToken = strings.ToLower(m[1])
	}

	var out []models.EntityRef
	for _, c := range cands {
		hit := false
		if seriesToken != "" && c.Key.SeriesName != "" {
			if tok := seriesSuffix(c.Key.SeriesName); tok != "" && strings.EqualFold(tok, seriesToken) {
				hit = true
			}
		}
		if !hit && c.Key.ClubName != "" && strings.Contains(lower, strings.ToLower(c.Key.ClubName)) {
			hit = true
		}
		if !hit && c.Key.TeamName != "" && strings.Contains(lower, strings.ToLower(c.Key.TeamName)) {
			hit = true
		}
		if hit {
			out = append(out, c)
		}
	}
	return out
}

// seriesSuffix extracts the distinguishing token from a series name, e.g.
// "Series 22" yields "22". Names without the prefix return the whole name.
func seriesSuffix(name string) string {
	if m := seriesTokenRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return name
}

// userContextStrategy narrows team candidates to teams the record's owning user
// belongs to through their player associations. It is the weakest signal: the
// user may belong to several teams, and the record may predate an association.
type userContextStrategy struct {
	// userTeams resolves a user's current team ids within a league.
	userTeams func(userID int64, leagueID string) ([]int64, error)
}

func (userContextStrategy) Name() string    { return "user_context" }
func (userContextStrategy) Confidence() int { return 70 }

func (s userContextStrategy) Match(rec models.SnapshotRecord, cands []models.EntityRef) []models.EntityRef {
	if rec.UserID == nil || s.userTeams == nil {
		return nil
	}
	if len(cands) == 0 || cands[0].Table != "teams" {
		return nil
	}

	teamIDs, err := s.userTeams(*rec.UserID, rec.Key.LeagueID)
	if err != nil || len(teamIDs) == 0 {
		return nil
	}
	member := make(map[int64]bool, len(teamIDs))
	for _, id := range teamIDs {
		member[id] = true
	}

	var out []models.EntityRef
	for _, c := range cands {
		if member[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// breakTie picks one entity from an ambiguous match set deterministically:
// prefer active entities, then the lowest surrogate id. Returns the winner and
// whether the choice was forced by a tie.
func breakTie(matches []models.EntityRef) (models.EntityRef, bool) {
	if len(matches) == 1 {
		return matches[0], false
	}

	sorted := make([]models.EntityRef, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Active != sorted[j].Active {
			return sorted[i].Active
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0], true
}
