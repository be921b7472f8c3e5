package teams

import (
	"sort"
	"sync"
	"time"
)

// FailureStatus is the workflow status of an unmatched team string.
type FailureStatus string

const (
	FailureOpen     FailureStatus = "open"
	FailureResolved FailureStatus = "resolved"
	FailureIgnored  FailureStatus = "ignored"
)

// MatchFailure is one unmatched team string, keyed by (league, raw string),
// with an occurrence counter.
type MatchFailure struct {
	League          string        `json:"league"`
	RawTeam         string        `json:"raw_team"`
	Count           int           `json:"count"`
	FirstSeen       time.Time     `json:"first_seen"`
	LastSeen        time.Time     `json:"last_seen"`
	Status          FailureStatus `json:"status"`
	ConfirmedTeamID string        `json:"confirmed_team_id,omitempty"`
}

// FailureSink persists failure upserts. Implemented by the store.
type FailureSink interface {
	UpsertTeamFailure(f MatchFailure) error
}

// FailureLog aggregates unmatched team strings in memory and mirrors them to
// an optional sink. It satisfies the quality gate's TeamFailureLogger.
type FailureLog struct {
	mu       sync.Mutex
	failures map[string]*MatchFailure // league|normalized raw -> failure
	sink     FailureSink
	resolver *Resolver
}

// NewFailureLog creates a failure log. sink may be nil.
func NewFailureLog(resolver *Resolver, sink FailureSink) *FailureLog {
	return &FailureLog{
		failures: make(map[string]*MatchFailure),
		sink:     sink,
		resolver: resolver,
	}
}

// RecordUnmatched upserts an unmatched team string, bumping its counter.
func (l *FailureLog) RecordUnmatched(league, rawTeam string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := league + "|" + Normalize(rawTeam)
	f, ok := l.failures[key]
	if !ok {
		f = &MatchFailure{
			League:    league,
			RawTeam:   rawTeam,
			FirstSeen: at,
			Status:    FailureOpen,
		}
		l.failures[key] = f
	}
	f.Count++
	f.LastSeen = at

	if l.sink != nil {
		return l.sink.UpsertTeamFailure(*f)
	}
	return nil
}

// Confirm marks a failure resolved with a human-confirmed team mapping and
// registers the mapping with the resolver so future occurrences match.
func (l *FailureLog) Confirm(league, rawTeam, teamID string, at time.Time) bool {
	if l.resolver != nil && !l.resolver.Confirm(league, rawTeam, teamID) {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := league + "|" + Normalize(rawTeam)
	f, ok := l.failures[key]
	if !ok {
		f = &MatchFailure{League: league, RawTeam: rawTeam, FirstSeen: at}
		l.failures[key] = f
	}
	f.Status = FailureResolved
	f.ConfirmedTeamID = teamID
	f.LastSeen = at

	if l.sink != nil {
		_ = l.sink.UpsertTeamFailure(*f)
	}
	return true
}

// Ignore marks a failure as not worth resolving.
func (l *FailureLog) Ignore(league, rawTeam string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.failures[league+"|"+Normalize(rawTeam)]; ok {
		f.Status = FailureIgnored
		if l.sink != nil {
			_ = l.sink.UpsertTeamFailure(*f)
		}
	}
}

// Open returns the open failures ordered by occurrence count descending.
func (l *FailureLog) Open() []MatchFailure {
	l.mu.Lock()
	defer l.mu.Unlock()

	var open []MatchFailure
	for _, f := range l.failures {
		if f.Status == FailureOpen {
			open = append(open, *f)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Count > open[j].Count })
	return open
}
