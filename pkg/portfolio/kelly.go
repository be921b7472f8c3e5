// Package portfolio sizes stakes with a fractional Kelly rule and selects a
// bounded set of recommendations under exposure and correlation constraints.
package portfolio

import (
	"github.com/shopspring/decimal"
)

// SizerConfig holds Kelly and bankroll parameters.
type SizerConfig struct {
	// KellyFraction scales the full Kelly stake down, typically 0.10-0.50.
	KellyFraction float64
	// MaxWinProb caps the estimated win probability used in the formula.
	MaxWinProb float64
	// MinBankrollPct suppresses micro-bets: a stake sizing below this
	// fraction of bankroll is zeroed, never rounded up.
	MinBankrollPct float64
	// MaxBankrollPct clamps any single stake.
	MaxBankrollPct float64
}

// DefaultSizerConfig returns quarter-Kelly with 0.5%-5% bankroll bounds.
func DefaultSizerConfig() *SizerConfig {
	return &SizerConfig{
		KellyFraction:  0.25,
		MaxWinProb:     0.95,
		MinBankrollPct: 0.005,
		MaxBankrollPct: 0.05,
	}
}

// Sizer computes per-signal stakes.
type Sizer struct {
	cfg *SizerConfig
}

// NewSizer creates a sizer. cfg may be nil for defaults.
func NewSizer(cfg *SizerConfig) *Sizer {
	if cfg == nil {
		cfg = DefaultSizerConfig()
	}
	return &Sizer{cfg: cfg}
}

// Stake sizes a bet at the quoted price (implied probability, 0-1) with the
// given signed edge and a 0-100 confidence. A zero or negative edge always
// returns zero. The result never exceeds MaxBankrollPct of bankroll.
func (s *Sizer) Stake(price, edge, confidence float64, bankroll decimal.Decimal) decimal.Decimal {
	if edge <= 0 || price <= 0 || price >= 1 {
		return decimal.Zero
	}

	p := price + edge
	if p > s.cfg.MaxWinProb {
		p = s.cfg.MaxWinProb
	}
	q := 1 - p
	b := (1 - price) / price // net odds per unit staked
	f := (b*p - q) / b
	if f <= 0 {
		return decimal.Zero
	}

	f *= s.cfg.KellyFraction
	f *= confidenceMultiplier(confidence)

	if f > s.cfg.MaxBankrollPct {
		f = s.cfg.MaxBankrollPct
	}
	if f < s.cfg.MinBankrollPct {
		return decimal.Zero
	}
	return bankroll.Mul(decimal.NewFromFloat(f)).Round(2)
}

// confidenceMultiplier scales the Kelly fraction linearly between half and
// full weight across the confidence range.
func confidenceMultiplier(confidence float64) float64 {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return 0.5 + 0.5*confidence/100
}
