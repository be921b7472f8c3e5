package execution

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAnalyze_InsufficientLiquidityAlwaysNoBet(t *testing.T) {
	e := NewEngine(nil)

	// A deliberately huge edge cannot override the liquidity floor.
	a := e.Analyze(0.50, decimal.NewFromInt(500), decimal.NewFromInt(10))
	if a.Decision != NoBet {
		t.Errorf("decision = %s, want NO_BET on insufficient liquidity", a.Decision)
	}
	if a.LiquidityTier != TierInsufficient {
		t.Errorf("tier = %s", a.LiquidityTier)
	}
}

func TestAnalyze_DecisionGrades(t *testing.T) {
	e := NewEngine(nil)
	highLiq := decimal.NewFromInt(50000)
	smallStake := decimal.NewFromInt(100) // ratio 0.002, zero slippage

	// At high liquidity with a tiny stake the only costs are the 2% fee on
	// edge and the 0.002 spread.
	tests := []struct {
		name    string
		rawEdge float64
		want    Decision
	}{
		{"strong", 0.06, StrongBet},  // net 0.06*0.98-0.002 = 0.0568
		{"bet", 0.03, Bet},           // net 0.0274
		{"marginal", 0.015, Marginal}, // net 0.0127
		{"no bet", 0.005, NoBet},     // net 0.0029
		{"negative edge", -0.02, NoBet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := e.Analyze(tt.rawEdge, highLiq, smallStake)
			if a.Decision != tt.want {
				t.Errorf("edge %.3f: decision = %s (net %.4f), want %s",
					tt.rawEdge, a.Decision, a.NetEdge, tt.want)
			}
		})
	}
}

func TestAnalyze_MarginalRequiresHighLiquidity(t *testing.T) {
	e := NewEngine(nil)
	smallStake := decimal.NewFromInt(10)

	// Same raw edge, medium vs high liquidity. On medium the extra spread
	// also drags the net edge down, but the tier gate alone must block
	// MARGINAL there.
	high := e.Analyze(0.015, decimal.NewFromInt(50000), smallStake)
	if high.Decision != Marginal {
		t.Fatalf("high liquidity decision = %s (net %.4f)", high.Decision, high.NetEdge)
	}
	medium := e.Analyze(0.018, decimal.NewFromInt(10000), smallStake)
	if medium.Decision == Marginal {
		t.Errorf("MARGINAL allowed on %s liquidity", medium.LiquidityTier)
	}
}

func TestAnalyze_FeeOnlyOnPositiveEdge(t *testing.T) {
	e := NewEngine(nil)
	liq := decimal.NewFromInt(50000)
	stake := decimal.NewFromInt(100)

	pos := e.Analyze(0.05, liq, stake)
	if pos.FeeCost <= 0 {
		t.Error("positive edge should incur a fee")
	}
	neg := e.Analyze(-0.05, liq, stake)
	if neg.FeeCost != 0 {
		t.Errorf("negative edge fee = %f, want 0", neg.FeeCost)
	}
}

func TestAnalyze_SpreadStepsDownWithLiquidity(t *testing.T) {
	e := NewEngine(nil)
	stake := decimal.NewFromInt(10)

	low := e.Analyze(0.03, decimal.NewFromInt(2000), stake)
	med := e.Analyze(0.03, decimal.NewFromInt(10000), stake)
	high := e.Analyze(0.03, decimal.NewFromInt(50000), stake)
	if !(low.SpreadCost > med.SpreadCost && med.SpreadCost > high.SpreadCost) {
		t.Errorf("spread costs not decreasing: %f, %f, %f",
			low.SpreadCost, med.SpreadCost, high.SpreadCost)
	}
}

func TestAnalyze_SlippageStepsUpWithStakeRatio(t *testing.T) {
	e := NewEngine(nil)
	liq := decimal.NewFromInt(10000)

	tiny := e.Analyze(0.03, liq, decimal.NewFromInt(50))    // ratio 0.005
	mid := e.Analyze(0.03, liq, decimal.NewFromInt(300))    // ratio 0.03
	large := e.Analyze(0.03, liq, decimal.NewFromInt(800))  // ratio 0.08
	huge := e.Analyze(0.03, liq, decimal.NewFromInt(2000))  // ratio 0.20
	if !(tiny.SlippageCost < mid.SlippageCost &&
		mid.SlippageCost < large.SlippageCost &&
		large.SlippageCost < huge.SlippageCost) {
		t.Errorf("slippage costs not increasing: %f, %f, %f, %f",
			tiny.SlippageCost, mid.SlippageCost, large.SlippageCost, huge.SlippageCost)
	}
}

func TestAnalyze_MaxStakeBeforeImpact(t *testing.T) {
	e := NewEngine(nil)
	a := e.Analyze(0.03, decimal.NewFromInt(10000), decimal.NewFromInt(100))
	want := decimal.NewFromInt(500) // 5% of quoted volume
	if !a.MaxStake.Equal(want) {
		t.Errorf("max stake = %s, want %s", a.MaxStake, want)
	}
}
