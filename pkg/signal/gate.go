package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// GateConfig holds the quality-gate thresholds. Values are per-version
// configuration selected by an explicit version id.
type GateConfig struct {
	// S2 entry gates: all must hold.
	S2MinConfidence float64
	S2MinBookProb   float64
	S2MinMinutes    float64
	S2MinLiquidity  decimal.Decimal

	// S1 entry gates: relaxed floors. Every input must clear its relaxed
	// floor; sitting in the relaxed band on any single input (with the rest
	// at S2 level) is what lands a candidate at S1 instead of S2. An input
	// below even its relaxed floor holds the candidate at WATCH.
	S1MinConfidence float64
	S1MinBookProb   float64
	S1MinMinutes    float64

	// Rolling-hour caps on S2 promotions.
	GlobalS2PerHour   int
	CategoryS2PerHour int

	// Degradation handling.
	DegradedMaxConfidence float64
	DisagreementPenalty   float64
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig() *GateConfig {
	return &GateConfig{
		S2MinConfidence:       75,
		S2MinBookProb:         0.20,
		S2MinMinutes:          30,
		S2MinLiquidity:        decimal.NewFromInt(5000),
		S1MinConfidence:       55,
		S1MinBookProb:         0.10,
		S1MinMinutes:          10,
		GlobalS2PerHour:       10,
		CategoryS2PerHour:     4,
		DegradedMaxConfidence: 70,
		DisagreementPenalty:   10,
	}
}

// Environment describes the external conditions at evaluation time.
type Environment struct {
	ProvidersConfigured int // liquidity-data providers configured
	ProvidersReachable  int // providers that responded
	ProvidersDisagree   bool

	LeagueResolved bool
	HomeResolved   bool
	AwayResolved   bool
	HomeRaw        string // raw strings for the failure log
	AwayRaw        string

	StaleOrDuplicateQuotes bool

	Category string // rate-limit category, e.g. sport
}

// TeamFailureLogger records unmatched team strings for human resolution.
// An unmatched team never silently drops a signal.
type TeamFailureLogger interface {
	RecordUnmatched(league, rawTeam string, at time.Time) error
}

// Gate classifies candidates into REJECT / WATCH / S1 / S2 and manages
// one-way auto-promotion and rolling-hour rate limits.
type Gate struct {
	cfg      *GateConfig
	log      zerolog.Logger
	failures TeamFailureLogger

	mu         sync.Mutex
	globalS2   []time.Time
	categoryS2 map[string][]time.Time
}

// NewGate creates a gate. failures may be nil when no failure log is wired.
func NewGate(cfg *GateConfig, failures TeamFailureLogger, log zerolog.Logger) *Gate {
	if cfg == nil {
		cfg = DefaultGateConfig()
	}
	return &Gate{
		cfg:        cfg,
		log:        log,
		failures:   failures,
		categoryS2: make(map[string][]time.Time),
	}
}

// Evaluate classifies a candidate and applies the resulting transition to the
// signal in place. The returned transition is nil when the state is unchanged.
func (g *Gate) Evaluate(sig *Signal, env Environment, now time.Time) *Transition {
	if reason, rejected := g.hardReject(sig, env); rejected {
		return g.apply(sig, StateReject, reason, now)
	}

	if !env.HomeResolved || !env.AwayResolved {
		g.recordUnmatched(sig, env, now)
		// Hard-blocked from promotion until a human confirms a mapping.
		return g.apply(sig, StateWatch, "team_unmatched", now)
	}

	confidence, degradedTag := g.effectiveConfidence(sig.Confidence, env)

	target, reason := g.classify(sig, confidence, env, now)
	if degradedTag != "" && target != StateReject {
		reason = reason + ";" + degradedTag
	}
	return g.apply(sig, target, reason, now)
}

func (g *Gate) hardReject(sig *Signal, env Environment) (string, bool) {
	switch {
	case sig.Ref.MarketType.DrawCapable():
		return "draw_capable_market", true
	case !env.LeagueResolved:
		return "unresolved_league", true
	case sig.SharpCount == 0:
		return "no_independent_sharp_sources", true
	case env.StaleOrDuplicateQuotes:
		return "stale_or_duplicate_quotes", true
	}
	return "", false
}

// effectiveConfidence applies degradation caps and disagreement penalties.
func (g *Gate) effectiveConfidence(confidence float64, env Environment) (float64, string) {
	var tag string
	if env.ProvidersDisagree {
		confidence -= g.cfg.DisagreementPenalty
		tag = "provider_disagreement"
	}
	if env.ProvidersReachable < env.ProvidersConfigured && env.ProvidersReachable > 0 {
		if confidence > g.cfg.DegradedMaxConfidence {
			confidence = g.cfg.DegradedMaxConfidence
		}
		if tag != "" {
			tag += ";"
		}
		tag += fmt.Sprintf("degraded:%d/%d_providers", env.ProvidersReachable, env.ProvidersConfigured)
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence, tag
}

func (g *Gate) classify(sig *Signal, confidence float64, env Environment, now time.Time) (State, string) {
	cfg := g.cfg

	meetsS2 := confidence >= cfg.S2MinConfidence &&
		sig.BookImpliedProb >= cfg.S2MinBookProb &&
		sig.MinutesToStart >= cfg.S2MinMinutes &&
		sig.LiquidityEstimate.GreaterThanOrEqual(cfg.S2MinLiquidity) &&
		env.ProvidersReachable >= 1

	if meetsS2 {
		if sig.State == StateS2Execute {
			return StateS2Execute, sig.StateReason
		}
		ok, limited := g.takeS2Capacity(env.Category, now)
		if !ok {
			// Capacity exhaustion holds the signal at S1, never rejects.
			return StateS1Promote, "rate_limited:" + limited
		}
		return StateS2Execute, "s2_gates_met"
	}

	meetsS1 := confidence >= cfg.S1MinConfidence &&
		sig.BookImpliedProb >= cfg.S1MinBookProb &&
		sig.MinutesToStart >= cfg.S1MinMinutes

	if meetsS1 {
		return StateS1Promote, "s1_gates_met"
	}
	return StateWatch, "below_s1_gates"
}

// AutoPromote promotes an S1 signal one-way to S2 when later-arriving data
// crosses an S2 floor and minutes-to-start still exceeds the S2 floor. The
// promotion is never reversed.
func (g *Gate) AutoPromote(sig *Signal, up *ConfirmationUpdate, env Environment, now time.Time) *Transition {
	if sig.State != StateS1Promote || up == nil {
		return nil
	}

	var trigger string
	switch {
	case up.Confidence >= g.cfg.S2MinConfidence:
		trigger = "confidence_crossed_floor"
	case up.Liquidity.GreaterThanOrEqual(g.cfg.S2MinLiquidity):
		trigger = "liquidity_crossed_floor"
	case up.SharpCount > sig.SharpCount:
		trigger = "additional_sharp_source"
	default:
		return nil
	}

	minutes := sig.Ref.StartTime.Sub(now).Minutes()
	if minutes < g.cfg.S2MinMinutes {
		return nil
	}
	if env.ProvidersReachable < 1 {
		return nil
	}

	ok, limited := g.takeS2Capacity(env.Category, now)
	if !ok {
		sig.StateReason = "rate_limited:" + limited
		return nil
	}

	// Fold the confirming data into the signal.
	if up.Confidence > sig.Confidence {
		sig.Confidence = up.Confidence
	}
	if up.SharpCount > sig.SharpCount {
		sig.SharpCount = up.SharpCount
	}
	if up.ConsensusCount > sig.ConsensusCount {
		sig.ConsensusCount = up.ConsensusCount
	}
	if up.Liquidity.GreaterThan(sig.LiquidityEstimate) {
		sig.LiquidityEstimate = up.Liquidity
	}
	sig.MinutesToStart = minutes

	return g.apply(sig, StateS2Execute, "auto_promote:"+trigger, now)
}

// Terminate moves a signal to a terminal state (EXPIRED or SETTLED).
func (g *Gate) Terminate(sig *Signal, to State, reason string, now time.Time) *Transition {
	if !to.Terminal() {
		return nil
	}
	return g.apply(sig, to, reason, now)
}

// apply performs a state change, enforcing the monotonic promotion invariant.
// A lower-ranked non-terminal target leaves the current state in place.
func (g *Gate) apply(sig *Signal, target State, reason string, now time.Time) *Transition {
	if target == sig.State {
		sig.StateReason = reason
		return nil
	}
	if !sig.State.CanTransition(target) {
		if sig.State.Terminal() {
			// Integrity error: terminal signals must not be re-gated.
			g.log.Error().
				Str("signal_id", sig.ID).
				Str("from", string(sig.State)).
				Str("to", string(target)).
				Msg("invalid state transition skipped")
			return nil
		}
		// Demotion attempt from re-evaluation: hold the higher state.
		g.log.Debug().
			Str("signal_id", sig.ID).
			Str("held", string(sig.State)).
			Str("target", string(target)).
			Msg("holding state; promotions are one-way")
		return nil
	}

	tr := &Transition{
		SignalID: sig.ID,
		From:     sig.State,
		To:       target,
		Reason:   reason,
		At:       now,
	}
	sig.State = target
	sig.StateReason = reason
	if target == StateS1Promote || target == StateS2Execute {
		promoted := now
		sig.LastPromotedAt = &promoted
	}

	g.log.Info().
		Str("signal_id", sig.ID).
		Str("dedupe_key", sig.DedupeKey).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Str("reason", reason).
		Msg("signal state transition")
	return tr
}

func (g *Gate) recordUnmatched(sig *Signal, env Environment, now time.Time) {
	if g.failures == nil {
		return
	}
	if !env.HomeResolved && env.HomeRaw != "" {
		if err := g.failures.RecordUnmatched(sig.Ref.League, env.HomeRaw, now); err != nil {
			g.log.Warn().Err(err).Str("team", env.HomeRaw).Msg("failed to record unmatched team")
		}
	}
	if !env.AwayResolved && env.AwayRaw != "" {
		if err := g.failures.RecordUnmatched(sig.Ref.League, env.AwayRaw, now); err != nil {
			g.log.Warn().Err(err).Str("team", env.AwayRaw).Msg("failed to record unmatched team")
		}
	}
}

// takeS2Capacity consumes one S2 promotion slot if the rolling-hour caps
// allow it. Returns the exhausted cap name otherwise.
func (g *Gate) takeS2Capacity(category string, now time.Time) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-time.Hour)
	g.globalS2 = pruneBefore(g.globalS2, cutoff)
	g.categoryS2[category] = pruneBefore(g.categoryS2[category], cutoff)

	if g.cfg.GlobalS2PerHour > 0 && len(g.globalS2) >= g.cfg.GlobalS2PerHour {
		return false, "global"
	}
	if g.cfg.CategoryS2PerHour > 0 && len(g.categoryS2[category]) >= g.cfg.CategoryS2PerHour {
		return false, "category"
	}

	g.globalS2 = append(g.globalS2, now)
	g.categoryS2[category] = append(g.categoryS2[category], now)
	return true, ""
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
