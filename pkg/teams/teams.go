// Package teams canonicalizes team names across quote sources and tracks
// unmatched strings for human resolution.
package teams

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Team is a canonical team entry.
type Team struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Abbreviation string   `json:"abbreviation"`
	Aliases      []string `json:"aliases"`
	League       string   `json:"league"`
}

// Resolver maps raw team strings from quote sources to canonical teams.
// Human-confirmed mappings take priority and apply automatically to all
// future occurrences of the same raw string.
type Resolver struct {
	mu        sync.RWMutex
	teams     map[string]*Team            // ID -> Team
	byName    map[string]*Team            // normalized name/alias -> Team
	byAbbrev  map[string]*Team            // lowercase abbreviation -> Team
	byLeague  map[string][]*Team          // league -> Teams
	confirmed map[string]map[string]*Team // league -> normalized raw -> Team
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		teams:     make(map[string]*Team),
		byName:    make(map[string]*Team),
		byAbbrev:  make(map[string]*Team),
		byLeague:  make(map[string][]*Team),
		confirmed: make(map[string]map[string]*Team),
	}
}

// Load replaces the canonical team set.
func (r *Resolver) Load(teams []Team) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teams = make(map[string]*Team, len(teams))
	r.byName = make(map[string]*Team, len(teams))
	r.byAbbrev = make(map[string]*Team)
	r.byLeague = make(map[string][]*Team)

	for i := range teams {
		team := &teams[i]
		r.teams[team.ID] = team
		r.byName[Normalize(team.Name)] = team
		if team.Abbreviation != "" {
			r.byAbbrev[strings.ToLower(team.Abbreviation)] = team
		}
		for _, alias := range team.Aliases {
			r.byName[Normalize(alias)] = team
		}
		r.byLeague[team.League] = append(r.byLeague[team.League], team)
	}
}

// TeamCount returns the number of loaded teams.
func (r *Resolver) TeamCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.teams)
}

// KnownLeague reports whether any canonical teams are loaded for a league.
func (r *Resolver) KnownLeague(league string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byLeague[league]) > 0
}

// ByLeague returns all teams in a league.
func (r *Resolver) ByLeague(league string) []*Team {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byLeague[league]
}

// Resolve maps a raw team string to a canonical team. Confirmed mappings are
// checked first, then exact normalized names and aliases, then abbreviations,
// then suffix-stripped and partial matches.
func (r *Resolver) Resolve(league, raw string) (*Team, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	normRaw := Normalize(raw)
	if normRaw == "" {
		return nil, false
	}

	if byRaw, ok := r.confirmed[league]; ok {
		if team, ok := byRaw[normRaw]; ok {
			return team, true
		}
	}

	if team, ok := r.byName[normRaw]; ok {
		return team, true
	}
	if team, ok := r.byAbbrev[normRaw]; ok {
		return team, true
	}

	suffixes := []string{" fc", " afc", " cf", " united", " city"}
	for _, suffix := range suffixes {
		stripped := strings.TrimSuffix(normRaw, suffix)
		if stripped != normRaw {
			if team, ok := r.byName[stripped]; ok {
				return team, true
			}
		}
	}

	// Partial match, scoped to the league to avoid cross-league collisions.
	for _, team := range r.byLeague[league] {
		normName := Normalize(team.Name)
		if strings.Contains(normName, normRaw) || strings.Contains(normRaw, normName) {
			return team, true
		}
	}

	return nil, false
}

// Confirm records a human-confirmed mapping from a raw string to a team.
// The mapping applies to all future occurrences of that string.
func (r *Resolver) Confirm(league, raw, teamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	team, ok := r.teams[teamID]
	if !ok {
		return false
	}
	if r.confirmed[league] == nil {
		r.confirmed[league] = make(map[string]*Team)
	}
	r.confirmed[league][Normalize(raw)] = team
	return true
}

// Normalize lowercases a name, folds accents, strips club suffixes, and
// collapses whitespace.
func Normalize(name string) string {
	name = strings.ToLower(name)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	name, _, _ = transform.String(t, name)

	name = strings.ReplaceAll(name, " fc", "")
	name = strings.ReplaceAll(name, " afc", "")

	return strings.Join(strings.Fields(name), " ")
}
