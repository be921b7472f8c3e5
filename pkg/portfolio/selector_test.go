package portfolio

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func candidate(id, league string, score float64, stake int64, start time.Time) Candidate {
	return Candidate{
		SignalID:  id,
		EventKey:  "event-" + id,
		League:    league,
		StartTime: start,
		Score:     score,
		Stake:     decimal.NewFromInt(stake),
	}
}

func acceptedIDs(bets []RecommendedBet) []string {
	ids := make([]string, len(bets))
	for i, b := range bets {
		ids[i] = b.SignalID
	}
	return ids
}

func TestSelect_LeagueCapExactExample(t *testing.T) {
	s := NewSelector(nil)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	// Five same-league candidates spread far enough apart in start time
	// that only the league cap binds.
	var cands []Candidate
	for i, score := range []float64{90, 85, 80, 75, 70} {
		c := candidate(string(rune('a'+i)), "L", score, 50, base.Add(time.Duration(i)*5*time.Hour))
		cands = append(cands, c)
	}

	accepted, rejected := s.Select(cands, base)
	if len(accepted) != 2 || len(rejected) != 3 {
		t.Fatalf("accepted %d, rejected %d, want 2 and 3", len(accepted), len(rejected))
	}
	got := acceptedIDs(accepted)
	if got[0] != "a" || got[1] != "b" {
		t.Errorf("accepted %v, want the two highest scored", got)
	}
	for _, r := range rejected {
		if !strings.Contains(r.Reason, "league") {
			t.Errorf("rejection reason %q does not cite the league cap", r.Reason)
		}
	}
}

func TestSelect_PenaltySurvivesAboveFloor(t *testing.T) {
	s := NewSelector(nil)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	cands := []Candidate{
		candidate("a", "L", 96, 50, base),
		candidate("b", "L", 95, 50, base.Add(5*time.Hour)),
		candidate("c", "L", 94, 50, base.Add(10*time.Hour)),
	}
	accepted, rejected := s.Select(cands, base)
	if len(accepted) != 3 {
		t.Fatalf("accepted %d (rejected: %+v), want all three", len(accepted), rejected)
	}
	// The third carries the cap penalty in its recorded score.
	if accepted[2].BetScore != 94-s.cfg.CapPenalty {
		t.Errorf("penalized score = %.1f, want %.1f", accepted[2].BetScore, 94-s.cfg.CapPenalty)
	}
}

func TestSelect_PerEventStakeCap(t *testing.T) {
	s := NewSelector(nil)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	a := candidate("a", "L1", 90, 300, base)
	b := candidate("b", "L2", 85, 300, base.Add(5*time.Hour))
	b.EventKey = a.EventKey

	accepted, rejected := s.Select([]Candidate{a, b}, base)
	if len(accepted) != 1 {
		t.Fatalf("accepted %d, want 1", len(accepted))
	}
	if len(rejected) != 1 || !strings.Contains(rejected[0].Reason, "per-event") {
		t.Errorf("rejection = %+v, want per-event cap", rejected)
	}
}

func TestSelect_TotalExposureCap(t *testing.T) {
	s := NewSelector(nil)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	cands := []Candidate{
		candidate("a", "L1", 90, 400, base),
		candidate("b", "L2", 85, 400, base.Add(5*time.Hour)),
		candidate("c", "L3", 80, 400, base.Add(10*time.Hour)),
		candidate("d", "L4", 75, 400, base.Add(15*time.Hour)),
		candidate("e", "L5", 72, 400, base.Add(20*time.Hour)),
		candidate("f", "L6", 71, 400, base.Add(25*time.Hour)),
	}
	accepted, rejected := s.Select(cands, base)
	if len(accepted) != 5 {
		t.Fatalf("accepted %d, want 5 within the 2000 exposure cap", len(accepted))
	}
	if !strings.Contains(rejected[0].Reason, "exposure") {
		t.Errorf("rejection reason %q", rejected[0].Reason)
	}
}

func TestSelect_MaxCount(t *testing.T) {
	cfg := DefaultSelectorConfig()
	cfg.MaxCount = 1
	s := NewSelector(cfg)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	accepted, rejected := s.Select([]Candidate{
		candidate("a", "L1", 90, 50, base),
		candidate("b", "L2", 85, 50, base.Add(5*time.Hour)),
	}, base)
	if len(accepted) != 1 || len(rejected) != 1 {
		t.Fatalf("accepted %d, rejected %d", len(accepted), len(rejected))
	}
	if !strings.Contains(rejected[0].Reason, "max") {
		t.Errorf("rejection reason %q", rejected[0].Reason)
	}
}

func TestSelect_TimeClusterCap(t *testing.T) {
	s := NewSelector(nil)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	// Four different leagues, all starting within an hour of each other;
	// the fourth exceeds the cluster cap and its penalized score misses
	// the floor.
	cands := []Candidate{
		candidate("a", "L1", 90, 50, base),
		candidate("b", "L2", 85, 50, base.Add(20*time.Minute)),
		candidate("c", "L3", 80, 50, base.Add(40*time.Minute)),
		candidate("d", "L4", 75, 50, base.Add(time.Hour)),
	}
	accepted, rejected := s.Select(cands, base)
	if len(accepted) != 3 {
		t.Fatalf("accepted %d, want 3", len(accepted))
	}
	if len(rejected) != 1 || !strings.Contains(rejected[0].Reason, "time-cluster") {
		t.Errorf("rejection = %+v, want time-cluster cap", rejected)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	s := NewSelector(nil)
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	cands := []Candidate{
		candidate("b", "L1", 80, 50, base),
		candidate("a", "L2", 80, 50, base.Add(5*time.Hour)),
		candidate("c", "L3", 90, 50, base.Add(10*time.Hour)),
	}
	first, _ := s.Select(cands, base)
	second, _ := s.Select(cands, base)

	want := []string{"c", "a", "b"} // score desc, ties by signal id
	for i := range want {
		if first[i].SignalID != want[i] || second[i].SignalID != want[i] {
			t.Fatalf("order not deterministic: %v vs %v, want %v",
				acceptedIDs(first), acceptedIDs(second), want)
		}
	}
}
