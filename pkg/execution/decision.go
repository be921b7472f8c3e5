// Package execution converts a signal's raw statistical edge into a graded
// decision net of estimated platform fee, bid/ask spread, and market-impact
// slippage. Costs are estimates derived from quoted liquidity, not
// measurements.
package execution

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decision grades how actionable a net edge is.
type Decision string

const (
	StrongBet Decision = "STRONG_BET"
	Bet       Decision = "BET"
	Marginal  Decision = "MARGINAL"
	NoBet     Decision = "NO_BET"
)

// LiquidityTier buckets quoted market volume.
type LiquidityTier string

const (
	TierInsufficient LiquidityTier = "insufficient"
	TierLow          LiquidityTier = "low"
	TierMedium       LiquidityTier = "medium"
	TierHigh         LiquidityTier = "high"
)

// SpreadStep assigns a spread cost to all liquidity at or above MinLiquidity.
type SpreadStep struct {
	MinLiquidity decimal.Decimal
	Cost         float64
}

// SlippageStep assigns a slippage cost to stake/liquidity ratios up to
// MaxRatio.
type SlippageStep struct {
	MaxRatio float64
	Cost     float64
}

// Config holds cost-model and grading parameters.
type Config struct {
	// FeeRate is the platform fee as a fraction of edge, charged only when
	// the raw edge is positive.
	FeeRate float64

	// Tier boundaries. Liquidity below InsufficientBelow forces NO_BET.
	InsufficientBelow decimal.Decimal
	LowBelow          decimal.Decimal
	MediumBelow       decimal.Decimal

	// SpreadSteps must be sorted by MinLiquidity descending; the first step
	// whose floor the quoted liquidity meets applies. SpreadFallback covers
	// liquidity below every step.
	SpreadSteps    []SpreadStep
	SpreadFallback float64

	// SlippageSteps must be sorted by MaxRatio ascending; the first step
	// covering the stake/liquidity ratio applies. SlippageAbove covers
	// ratios beyond the last step.
	SlippageSteps []SlippageStep
	SlippageAbove float64

	// Net-edge decision floors. Marginal additionally requires TierHigh.
	StrongBetFloor float64
	BetFloor       float64
	MarginalFloor  float64

	// MaxImpactFraction of quoted volume is reported as the largest stake
	// before material price impact. Advisory only.
	MaxImpactFraction decimal.Decimal
}

// DefaultConfig returns conservative cost estimates.
func DefaultConfig() *Config {
	return &Config{
		FeeRate: 0.02,

		InsufficientBelow: decimal.NewFromInt(1000),
		LowBelow:          decimal.NewFromInt(5000),
		MediumBelow:       decimal.NewFromInt(20000),

		SpreadSteps: []SpreadStep{
			{MinLiquidity: decimal.NewFromInt(20000), Cost: 0.002},
			{MinLiquidity: decimal.NewFromInt(5000), Cost: 0.005},
			{MinLiquidity: decimal.NewFromInt(1000), Cost: 0.010},
		},
		SpreadFallback: 0.020,

		SlippageSteps: []SlippageStep{
			{MaxRatio: 0.01, Cost: 0},
			{MaxRatio: 0.05, Cost: 0.005},
			{MaxRatio: 0.10, Cost: 0.010},
		},
		SlippageAbove: 0.020,

		StrongBetFloor: 0.04,
		BetFloor:       0.02,
		MarginalFloor:  0.01,

		MaxImpactFraction: decimal.NewFromFloat(0.05),
	}
}

// Analysis is the cost breakdown behind one decision. Recomputed on every
// refresh, never the system of record.
type Analysis struct {
	RawEdge       float64         `json:"raw_edge"`
	FeeCost       float64         `json:"fee_cost"`
	SpreadCost    float64         `json:"spread_cost"`
	SlippageCost  float64         `json:"slippage_cost"`
	NetEdge       float64         `json:"net_edge"`
	LiquidityTier LiquidityTier   `json:"liquidity_tier"`
	Decision      Decision        `json:"decision"`
	Reason        string          `json:"reason"`
	MaxStake      decimal.Decimal `json:"max_stake_before_impact"`
}

// Engine grades edges under one cost model.
type Engine struct {
	cfg *Config
}

// NewEngine creates an engine. cfg may be nil for defaults.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Analyze grades a raw edge at the given quoted liquidity and intended stake.
// Insufficient liquidity forces NO_BET regardless of edge magnitude.
func (e *Engine) Analyze(rawEdge float64, liquidity, stake decimal.Decimal) Analysis {
	a := Analysis{
		RawEdge:       rawEdge,
		LiquidityTier: e.tier(liquidity),
		MaxStake:      liquidity.Mul(e.cfg.MaxImpactFraction),
	}

	if rawEdge > 0 {
		a.FeeCost = e.cfg.FeeRate * rawEdge
	}
	a.SpreadCost = e.spreadCost(liquidity)
	a.SlippageCost = e.slippageCost(liquidity, stake)
	a.NetEdge = rawEdge - a.FeeCost - a.SpreadCost - a.SlippageCost

	if a.LiquidityTier == TierInsufficient {
		a.Decision = NoBet
		a.Reason = fmt.Sprintf("liquidity %s below floor %s", liquidity, e.cfg.InsufficientBelow)
		return a
	}

	switch {
	case a.NetEdge >= e.cfg.StrongBetFloor:
		a.Decision = StrongBet
		a.Reason = fmt.Sprintf("net edge %.4f clears strong floor %.4f", a.NetEdge, e.cfg.StrongBetFloor)
	case a.NetEdge >= e.cfg.BetFloor:
		a.Decision = Bet
		a.Reason = fmt.Sprintf("net edge %.4f clears bet floor %.4f", a.NetEdge, e.cfg.BetFloor)
	case a.NetEdge >= e.cfg.MarginalFloor && a.LiquidityTier == TierHigh:
		a.Decision = Marginal
		a.Reason = fmt.Sprintf("net edge %.4f marginal on high liquidity", a.NetEdge)
	default:
		a.Decision = NoBet
		a.Reason = fmt.Sprintf("net edge %.4f below bet floor %.4f", a.NetEdge, e.cfg.BetFloor)
	}
	return a
}

func (e *Engine) tier(liquidity decimal.Decimal) LiquidityTier {
	switch {
	case liquidity.LessThan(e.cfg.InsufficientBelow):
		return TierInsufficient
	case liquidity.LessThan(e.cfg.LowBelow):
		return TierLow
	case liquidity.LessThan(e.cfg.MediumBelow):
		return TierMedium
	default:
		return TierHigh
	}
}

func (e *Engine) spreadCost(liquidity decimal.Decimal) float64 {
	for _, step := range e.cfg.SpreadSteps {
		if liquidity.GreaterThanOrEqual(step.MinLiquidity) {
			return step.Cost
		}
	}
	return e.cfg.SpreadFallback
}

func (e *Engine) slippageCost(liquidity, stake decimal.Decimal) float64 {
	if liquidity.IsZero() {
		return e.cfg.SlippageAbove
	}
	ratio := stake.Div(liquidity).InexactFloat64()
	for _, step := range e.cfg.SlippageSteps {
		if ratio <= step.MaxRatio {
			return step.Cost
		}
	}
	return e.cfg.SlippageAbove
}
