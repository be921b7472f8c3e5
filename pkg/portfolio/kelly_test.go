package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestStake_NonPositiveEdgeIsZero(t *testing.T) {
	s := NewSizer(nil)
	bankroll := decimal.NewFromInt(10000)

	for _, edge := range []float64{0, -0.01, -0.5} {
		if got := s.Stake(0.5, edge, 90, bankroll); !got.IsZero() {
			t.Errorf("edge %.2f: stake = %s, want 0", edge, got)
		}
	}
}

func TestStake_NeverExceedsMaxBankrollPct(t *testing.T) {
	s := NewSizer(nil)
	bankroll := decimal.NewFromInt(10000)
	cap := bankroll.Mul(decimal.NewFromFloat(DefaultSizerConfig().MaxBankrollPct))

	// A large edge at even odds produces a full-Kelly fraction far above
	// the clamp.
	got := s.Stake(0.5, 0.30, 100, bankroll)
	if !got.Equal(cap) {
		t.Errorf("stake = %s, want clamped to %s", got, cap)
	}
}

func TestStake_MicroBetsSuppressed(t *testing.T) {
	s := NewSizer(nil)
	bankroll := decimal.NewFromInt(10000)

	// Quarter-Kelly on a 1% edge at half confidence sizes below the 0.5%
	// floor; it must be zeroed, not rounded up.
	got := s.Stake(0.5, 0.01, 50, bankroll)
	if !got.IsZero() {
		t.Errorf("stake = %s, want 0 below the minimum", got)
	}
}

func TestStake_WinProbCapped(t *testing.T) {
	cfg := &SizerConfig{
		KellyFraction:  0.25,
		MaxWinProb:     0.95,
		MinBankrollPct: 0,
		MaxBankrollPct: 1,
	}
	s := NewSizer(cfg)
	bankroll := decimal.NewFromInt(10000)

	// Both edges push p past the cap, so the sized stakes are identical.
	a := s.Stake(0.90, 0.09, 100, bankroll)
	b := s.Stake(0.90, 0.05, 100, bankroll)
	if !a.Equal(b) {
		t.Errorf("stakes differ above the probability cap: %s vs %s", a, b)
	}
	if a.IsZero() {
		t.Error("capped stake should still be positive")
	}
}

func TestBetScore(t *testing.T) {
	c := DefaultScoreConfig()

	tests := []struct {
		confidence float64
		netEdge    float64
		want       float64
	}{
		{80, 0.05, 65},  // 40 confidence points + 25 edge points
		{100, 0.20, 100}, // edge term clamps at the reference
		{60, -0.02, 30}, // negative edge contributes nothing
	}
	for _, tt := range tests {
		got := c.BetScore(tt.confidence, tt.netEdge)
		if got != tt.want {
			t.Errorf("BetScore(%.0f, %.2f) = %.1f, want %.1f",
				tt.confidence, tt.netEdge, got, tt.want)
		}
	}
}
