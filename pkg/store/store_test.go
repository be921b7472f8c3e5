package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsworks/linesignal/pkg/movement"
	"github.com/oddsworks/linesignal/pkg/odds"
	"github.com/oddsworks/linesignal/pkg/portfolio"
	"github.com/oddsworks/linesignal/pkg/resolver"
	"github.com/oddsworks/linesignal/pkg/signal"
	"github.com/oddsworks/linesignal/pkg/teams"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSignal(dedupeKey string) *signal.Signal {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	return &signal.Signal{
		ID:        "sig-" + dedupeKey,
		DedupeKey: dedupeKey,
		Ref: odds.MarketRef{
			League:     "EPL",
			HomeTeam:   "arsenal",
			AwayTeam:   "chelsea",
			MarketType: odds.MarketTypeMoneyline,
			StartTime:  start,
		},
		Direction:         movement.DirectionUp,
		Confidence:        72,
		ConsensusCount:    4,
		SharpCount:        2,
		BookImpliedProb:   0.45,
		FairProb:          0.49,
		MinutesToStart:    120,
		LiquidityEstimate: decimal.NewFromInt(8000),
		State:             signal.StateWatch,
		StateReason:       "created",
		CreatedAt:         start.Add(-2 * time.Hour),
		LastEventAt:       start.Add(-2 * time.Hour),
		CoreVersion:       "v1",
	}
}

func TestQuotes_AppendAndQuery(t *testing.T) {
	s := openTest(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	quotes := []odds.Quote{
		{SourceID: "pinnacle", MarketKey: "m1", Outcome: odds.OutcomeHome, Price: 2.10, Sharp: true, ObservedAt: now},
		{SourceID: "book2", MarketKey: "m1", Outcome: odds.OutcomeHome, Price: 2.05, ObservedAt: now.Add(time.Minute)},
		{SourceID: "book2", MarketKey: "m2", Outcome: odds.OutcomeAway, Price: 1.90, ObservedAt: now.Add(-2 * time.Hour)},
	}
	if err := s.InsertQuotes(quotes); err != nil {
		t.Fatal(err)
	}

	got, err := s.QuotesSince("m1", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d quotes, want 2", len(got))
	}
	if got[0].SourceID != "pinnacle" || !got[0].Sharp {
		t.Errorf("first quote = %+v", got[0])
	}

	keys, err := s.MarketKeys(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "m1" {
		t.Errorf("market keys = %v", keys)
	}
}

func TestUpsertSignal_NoDuplicateOnDedupeKey(t *testing.T) {
	s := openTest(t)

	sig := testSignal("k1")
	if err := s.UpsertSignal(sig); err != nil {
		t.Fatal(err)
	}

	// A second write with the same dedupe key updates in place.
	sig.Confidence = 81
	sig.State = signal.StateS1Promote
	promoted := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	sig.LastPromotedAt = &promoted
	if err := s.UpsertSignal(sig); err != nil {
		t.Fatal(err)
	}

	got, err := s.SignalByDedupeKey("k1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("signal not found")
	}
	if got.Confidence != 81 || got.State != signal.StateS1Promote {
		t.Errorf("updated signal = %+v", got)
	}
	if got.LastPromotedAt == nil || !got.LastPromotedAt.Equal(promoted) {
		t.Errorf("last promoted = %v", got.LastPromotedAt)
	}
	if !got.LiquidityEstimate.Equal(decimal.NewFromInt(8000)) {
		t.Errorf("liquidity = %s", got.LiquidityEstimate)
	}

	all, err := s.SignalsInState(signal.StateS1Promote, signal.StateWatch)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("got %d rows, want 1 after upsert", len(all))
	}
}

func TestSignalByDedupeKey_Missing(t *testing.T) {
	s := openTest(t)
	got, err := s.SignalByDedupeKey("nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestResolutionCache_RoundTrip(t *testing.T) {
	s := openTest(t)

	res := &resolver.Resolution{
		QueryRef:    "0xabc",
		ConditionID: "0xabc",
		TokenA:      "111",
		TokenB:      "222",
		Source:      "direct_lookup",
		Confidence:  100,
		Tradeable:   true,
		ResolvedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Log: []resolver.LogEntry{
			{Extractor: "direct_lookup", Success: true, Detail: "matched"},
		},
	}
	if err := s.Put(res); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get("0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("cache miss")
	}
	if got.TokenA != "111" || !got.Tradeable || len(got.Log) != 1 {
		t.Errorf("resolution = %+v", got)
	}

	// Failures overwrite in place.
	res.Tradeable = false
	res.Reason = "all extractors failed"
	if err := s.Put(res); err != nil {
		t.Fatal(err)
	}
	got, _, err = s.Get("0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tradeable || got.Reason != "all extractors failed" {
		t.Errorf("resolution = %+v", got)
	}

	if _, ok, _ := s.Get("missing"); ok {
		t.Error("expected miss for unknown ref")
	}
}

func TestRecommendedBets_WriteAndSettle(t *testing.T) {
	s := openTest(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	bets := []portfolio.RecommendedBet{
		{
			ID: "bet-1", SignalID: "sig-1", InstrumentRef: "0xabc",
			Odds: 0.45, FairProb: 0.49, Edge: 0.03, BetScore: 82,
			StakeUnits: decimal.NewFromInt(120), ConfidenceTier: "B",
			Rationale: "score 82.0", CreatedAt: now,
		},
	}
	if err := s.InsertRecommendedBets(bets); err != nil {
		t.Fatal(err)
	}

	got, err := s.RecommendedBetsSince(now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].StakeUnits.Equal(decimal.NewFromInt(120)) {
		t.Errorf("bets = %+v", got)
	}

	if err := s.SettleBet("bet-1", "won"); err != nil {
		t.Fatal(err)
	}
	if err := s.SettleBet("bet-1", "amazing"); err == nil {
		t.Error("invalid result must err")
	}
	if err := s.SettleBet("bet-404", "lost"); err == nil {
		t.Error("unknown bet must err")
	}
}

func TestTeamFailures_UpsertAndList(t *testing.T) {
	s := openTest(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f := teams.MatchFailure{
		League: "EPL", RawTeam: "Arsenal FC", Count: 1,
		FirstSeen: now, LastSeen: now, Status: teams.FailureOpen,
	}
	if err := s.UpsertTeamFailure(f); err != nil {
		t.Fatal(err)
	}
	f.Count = 3
	f.LastSeen = now.Add(time.Hour)
	if err := s.UpsertTeamFailure(f); err != nil {
		t.Fatal(err)
	}

	open, err := s.OpenTeamFailures()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].Count != 3 {
		t.Errorf("open failures = %+v", open)
	}

	// Resolved failures drop out of the open list.
	f.Status = teams.FailureResolved
	f.ConfirmedTeamID = "ars"
	if err := s.UpsertTeamFailure(f); err != nil {
		t.Fatal(err)
	}
	open, err = s.OpenTeamFailures()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("open failures = %+v", open)
	}
}

func TestTransitions_Append(t *testing.T) {
	s := openTest(t)
	err := s.InsertTransition(signal.Transition{
		SignalID: "sig-1",
		From:     signal.StateS1Promote,
		To:       signal.StateS2Execute,
		Reason:   "confidence_crossed_floor",
		At:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
}
