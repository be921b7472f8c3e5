// Package store persists quotes, signals, instrument resolutions,
// recommended bets, and team-match failures in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/oddsworks/linesignal/pkg/movement"
	"github.com/oddsworks/linesignal/pkg/odds"
	"github.com/oddsworks/linesignal/pkg/portfolio"
	"github.com/oddsworks/linesignal/pkg/resolver"
	"github.com/oddsworks/linesignal/pkg/signal"
	"github.com/oddsworks/linesignal/pkg/teams"
)

// Store wraps the database connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with WAL mode and runs the
// schema migration. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS quotes (
	source_id   TEXT NOT NULL,
	market_key  TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	price       REAL NOT NULL,
	sharp       INTEGER NOT NULL,
	observed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quotes_market ON quotes(market_key, observed_at);

CREATE TABLE IF NOT EXISTS signals (
	id                TEXT PRIMARY KEY,
	dedupe_key        TEXT NOT NULL UNIQUE,
	league            TEXT NOT NULL,
	home_team         TEXT NOT NULL,
	away_team         TEXT NOT NULL,
	market_type       TEXT NOT NULL,
	start_time        TIMESTAMP NOT NULL,
	direction         TEXT NOT NULL,
	confidence        REAL NOT NULL,
	consensus_count   INTEGER NOT NULL,
	sharp_count       INTEGER NOT NULL,
	book_implied_prob REAL NOT NULL,
	fair_prob         REAL NOT NULL,
	minutes_to_start  REAL NOT NULL,
	liquidity         TEXT NOT NULL,
	state             TEXT NOT NULL,
	state_reason      TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL,
	last_event_at     TIMESTAMP NOT NULL,
	last_promoted_at  TIMESTAMP,
	core_version      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_state ON signals(state);

CREATE TABLE IF NOT EXISTS signal_transitions (
	signal_id TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	reason     TEXT NOT NULL,
	at         TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS resolutions (
	query_ref    TEXT PRIMARY KEY,
	condition_id TEXT,
	token_a      TEXT,
	token_b      TEXT,
	source       TEXT,
	confidence   REAL NOT NULL,
	tradeable    INTEGER NOT NULL,
	reason       TEXT,
	resolved_at  TIMESTAMP NOT NULL,
	log          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recommended_bets (
	id              TEXT PRIMARY KEY,
	signal_id       TEXT NOT NULL,
	instrument_ref  TEXT NOT NULL,
	odds            REAL NOT NULL,
	fair_prob       REAL NOT NULL,
	edge            REAL NOT NULL,
	bet_score       REAL NOT NULL,
	stake_units     TEXT NOT NULL,
	confidence_tier TEXT NOT NULL,
	rationale       TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	result          TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS team_match_failures (
	league            TEXT NOT NULL,
	raw_team          TEXT NOT NULL,
	count             INTEGER NOT NULL,
	first_seen        TIMESTAMP NOT NULL,
	last_seen         TIMESTAMP NOT NULL,
	status            TEXT NOT NULL,
	confirmed_team_id TEXT,
	PRIMARY KEY (league, raw_team)
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// InsertQuotes appends a batch of quotes. Quotes are never mutated.
func (s *Store) InsertQuotes(quotes []odds.Quote) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO quotes (source_id, market_key, outcome, price, sharp, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, q := range quotes {
		if _, err := stmt.Exec(q.SourceID, q.MarketKey, string(q.Outcome), q.Price, q.Sharp, q.ObservedAt.UTC()); err != nil {
			return fmt.Errorf("insert quote: %w", err)
		}
	}
	return tx.Commit()
}

// QuotesSince returns a market's quotes observed at or after since, oldest
// first.
func (s *Store) QuotesSince(marketKey string, since time.Time) ([]odds.Quote, error) {
	rows, err := s.db.Query(`SELECT source_id, market_key, outcome, price, sharp, observed_at
		FROM quotes WHERE market_key = ? AND observed_at >= ? ORDER BY observed_at`,
		marketKey, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query quotes: %w", err)
	}
	defer rows.Close()

	var quotes []odds.Quote
	for rows.Next() {
		var q odds.Quote
		var outcome string
		if err := rows.Scan(&q.SourceID, &q.MarketKey, &outcome, &q.Price, &q.Sharp, &q.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		q.Outcome = odds.Outcome(outcome)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// MarketKeys returns the distinct market keys quoted at or after since.
func (s *Store) MarketKeys(since time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT market_key FROM quotes WHERE observed_at >= ?`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query market keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan market key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpsertSignal writes a signal keyed by its unique dedupe key, safe under
// concurrent candidate creation.
func (s *Store) UpsertSignal(sig *signal.Signal) error {
	var promoted interface{}
	if sig.LastPromotedAt != nil {
		promoted = sig.LastPromotedAt.UTC()
	}
	_, err := s.db.Exec(`INSERT INTO signals (
		id, dedupe_key, league, home_team, away_team, market_type, start_time,
		direction, confidence, consensus_count, sharp_count,
		book_implied_prob, fair_prob, minutes_to_start, liquidity,
		state, state_reason, created_at, last_event_at, last_promoted_at, core_version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(dedupe_key) DO UPDATE SET
		confidence = excluded.confidence,
		consensus_count = excluded.consensus_count,
		sharp_count = excluded.sharp_count,
		book_implied_prob = excluded.book_implied_prob,
		fair_prob = excluded.fair_prob,
		minutes_to_start = excluded.minutes_to_start,
		liquidity = excluded.liquidity,
		state = excluded.state,
		state_reason = excluded.state_reason,
		last_event_at = excluded.last_event_at,
		last_promoted_at = excluded.last_promoted_at`,
		sig.ID, sig.DedupeKey, sig.Ref.League, sig.Ref.HomeTeam, sig.Ref.AwayTeam,
		string(sig.Ref.MarketType), sig.Ref.StartTime.UTC(),
		string(sig.Direction), sig.Confidence, sig.ConsensusCount, sig.SharpCount,
		sig.BookImpliedProb, sig.FairProb, sig.MinutesToStart, sig.LiquidityEstimate.String(),
		string(sig.State), sig.StateReason, sig.CreatedAt.UTC(), sig.LastEventAt.UTC(),
		promoted, sig.CoreVersion)
	if err != nil {
		return fmt.Errorf("upsert signal %s: %w", sig.DedupeKey, err)
	}
	return nil
}

// SignalByDedupeKey returns the signal for a dedupe key, or nil when none
// exists.
func (s *Store) SignalByDedupeKey(key string) (*signal.Signal, error) {
	row := s.db.QueryRow(signalSelect+` WHERE dedupe_key = ?`, key)
	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sig, err
}

// SignalsInState returns all signals in any of the given states.
func (s *Store) SignalsInState(states ...signal.State) ([]*signal.Signal, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]interface{}, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	rows, err := s.db.Query(signalSelect+` WHERE state IN (`+placeholders+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var signals []*signal.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

const signalSelect = `SELECT id, dedupe_key, league, home_team, away_team, market_type, start_time,
	direction, confidence, consensus_count, sharp_count,
	book_implied_prob, fair_prob, minutes_to_start, liquidity,
	state, state_reason, created_at, last_event_at, last_promoted_at, core_version
	FROM signals`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row rowScanner) (*signal.Signal, error) {
	var sig signal.Signal
	var marketType, direction, state, liquidity string
	var promoted sql.NullTime
	err := row.Scan(&sig.ID, &sig.DedupeKey, &sig.Ref.League, &sig.Ref.HomeTeam, &sig.Ref.AwayTeam,
		&marketType, &sig.Ref.StartTime,
		&direction, &sig.Confidence, &sig.ConsensusCount, &sig.SharpCount,
		&sig.BookImpliedProb, &sig.FairProb, &sig.MinutesToStart, &liquidity,
		&state, &sig.StateReason, &sig.CreatedAt, &sig.LastEventAt, &promoted, &sig.CoreVersion)
	if err != nil {
		return nil, err
	}
	sig.Ref.MarketType = odds.MarketType(marketType)
	sig.Direction = movement.Direction(direction)
	sig.State = signal.State(state)
	liq, err := decimal.NewFromString(liquidity)
	if err != nil {
		return nil, fmt.Errorf("decode liquidity %q: %w", liquidity, err)
	}
	sig.LiquidityEstimate = liq
	if promoted.Valid {
		t := promoted.Time
		sig.LastPromotedAt = &t
	}
	return &sig, nil
}

// InsertTransition appends one state-change record.
func (s *Store) InsertTransition(t signal.Transition) error {
	_, err := s.db.Exec(`INSERT INTO signal_transitions (signal_id, from_state, to_state, reason, at)
		VALUES (?, ?, ?, ?, ?)`,
		t.SignalID, string(t.From), string(t.To), t.Reason, t.At.UTC())
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// Get implements resolver.Cache.
func (s *Store) Get(queryRef string) (*resolver.Resolution, bool, error) {
	row := s.db.QueryRow(`SELECT query_ref, condition_id, token_a, token_b, source,
		confidence, tradeable, reason, resolved_at, log
		FROM resolutions WHERE query_ref = ?`, queryRef)

	var res resolver.Resolution
	var conditionID, tokenA, tokenB, source, reason sql.NullString
	var logJSON string
	err := row.Scan(&res.QueryRef, &conditionID, &tokenA, &tokenB, &source,
		&res.Confidence, &res.Tradeable, &reason, &res.ResolvedAt, &logJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query resolution: %w", err)
	}
	res.ConditionID = conditionID.String
	res.TokenA = tokenA.String
	res.TokenB = tokenB.String
	res.Source = source.String
	res.Reason = reason.String
	if err := json.Unmarshal([]byte(logJSON), &res.Log); err != nil {
		return nil, false, fmt.Errorf("decode resolution log: %w", err)
	}
	return &res, true, nil
}

// Put implements resolver.Cache. Successes and failures are both cached.
func (s *Store) Put(res *resolver.Resolution) error {
	logJSON, err := json.Marshal(res.Log)
	if err != nil {
		return fmt.Errorf("encode resolution log: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO resolutions (query_ref, condition_id, token_a, token_b,
		source, confidence, tradeable, reason, resolved_at, log)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(query_ref) DO UPDATE SET
		condition_id = excluded.condition_id,
		token_a = excluded.token_a,
		token_b = excluded.token_b,
		source = excluded.source,
		confidence = excluded.confidence,
		tradeable = excluded.tradeable,
		reason = excluded.reason,
		resolved_at = excluded.resolved_at,
		log = excluded.log`,
		res.QueryRef, res.ConditionID, res.TokenA, res.TokenB, res.Source,
		res.Confidence, res.Tradeable, res.Reason, res.ResolvedAt.UTC(), string(logJSON))
	if err != nil {
		return fmt.Errorf("upsert resolution %s: %w", res.QueryRef, err)
	}
	return nil
}

// InsertRecommendedBets writes one cycle's accepted recommendations.
func (s *Store) InsertRecommendedBets(bets []portfolio.RecommendedBet) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO recommended_bets (id, signal_id, instrument_ref,
		odds, fair_prob, edge, bet_score, stake_units, confidence_tier, rationale, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range bets {
		if _, err := stmt.Exec(b.ID, b.SignalID, b.InstrumentRef, b.Odds, b.FairProb,
			b.Edge, b.BetScore, b.StakeUnits.String(), b.ConfidenceTier, b.Rationale,
			b.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert recommended bet: %w", err)
		}
	}
	return tx.Commit()
}

// SettleBet attaches a settlement result to a recommendation. Valid results
// are won, lost, void, pending.
func (s *Store) SettleBet(id, result string) error {
	switch result {
	case "won", "lost", "void", "pending":
	default:
		return fmt.Errorf("invalid settlement result %q", result)
	}
	res, err := s.db.Exec(`UPDATE recommended_bets SET result = ? WHERE id = ?`, result, id)
	if err != nil {
		return fmt.Errorf("settle bet %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no recommended bet with id %s", id)
	}
	return nil
}

// RecommendedBetsSince returns recommendations created at or after since.
func (s *Store) RecommendedBetsSince(since time.Time) ([]portfolio.RecommendedBet, error) {
	rows, err := s.db.Query(`SELECT id, signal_id, instrument_ref, odds, fair_prob, edge,
		bet_score, stake_units, confidence_tier, rationale, created_at
		FROM recommended_bets WHERE created_at >= ? ORDER BY created_at`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query recommended bets: %w", err)
	}
	defer rows.Close()

	var bets []portfolio.RecommendedBet
	for rows.Next() {
		var b portfolio.RecommendedBet
		var stake string
		if err := rows.Scan(&b.ID, &b.SignalID, &b.InstrumentRef, &b.Odds, &b.FairProb,
			&b.Edge, &b.BetScore, &stake, &b.ConfidenceTier, &b.Rationale, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recommended bet: %w", err)
		}
		units, err := decimal.NewFromString(stake)
		if err != nil {
			return nil, fmt.Errorf("decode stake %q: %w", stake, err)
		}
		b.StakeUnits = units
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// UpsertTeamFailure implements teams.FailureSink.
func (s *Store) UpsertTeamFailure(f teams.MatchFailure) error {
	var confirmed interface{}
	if f.ConfirmedTeamID != "" {
		confirmed = f.ConfirmedTeamID
	}
	_, err := s.db.Exec(`INSERT INTO team_match_failures (league, raw_team, count,
		first_seen, last_seen, status, confirmed_team_id)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(league, raw_team) DO UPDATE SET
		count = excluded.count,
		last_seen = excluded.last_seen,
		status = excluded.status,
		confirmed_team_id = excluded.confirmed_team_id`,
		f.League, f.RawTeam, f.Count, f.FirstSeen.UTC(), f.LastSeen.UTC(),
		string(f.Status), confirmed)
	if err != nil {
		return fmt.Errorf("upsert team failure %s|%s: %w", f.League, f.RawTeam, err)
	}
	return nil
}

// OpenTeamFailures returns unresolved failures ordered by occurrence count
// descending.
func (s *Store) OpenTeamFailures() ([]teams.MatchFailure, error) {
	rows, err := s.db.Query(`SELECT league, raw_team, count, first_seen, last_seen, status,
		COALESCE(confirmed_team_id, '')
		FROM team_match_failures WHERE status = ? ORDER BY count DESC`,
		string(teams.FailureOpen))
	if err != nil {
		return nil, fmt.Errorf("query team failures: %w", err)
	}
	defer rows.Close()

	var failures []teams.MatchFailure
	for rows.Next() {
		var f teams.MatchFailure
		var status string
		if err := rows.Scan(&f.League, &f.RawTeam, &f.Count, &f.FirstSeen, &f.LastSeen,
			&status, &f.ConfirmedTeamID); err != nil {
			return nil, fmt.Errorf("scan team failure: %w", err)
		}
		f.Status = teams.FailureStatus(status)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
