package signal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddsworks/linesignal/pkg/movement"
)

// BuilderConfig holds candidate construction thresholds and confidence
// weights. Values ship as part of a named core version.
type BuilderConfig struct {
	Cooldown time.Duration // per-event suppression window (20-60m)

	// Confidence weights; should sum to 1.
	ConsensusWeight   float64
	MagnitudeWeight   float64
	PersistenceWeight float64
	LiquidityWeight   float64

	ConsensusTarget    int             // sources (sharp counted twice) for full marks
	MagnitudeReference float64         // move size for full magnitude marks
	LiquidityFloor     decimal.Decimal // notional floor for the preference term
}

// DefaultBuilderConfig returns sensible defaults.
func DefaultBuilderConfig() *BuilderConfig {
	return &BuilderConfig{
		Cooldown:           30 * time.Minute,
		ConsensusWeight:    0.35,
		MagnitudeWeight:    0.25,
		PersistenceWeight:  0.20,
		LiquidityWeight:    0.20,
		ConsensusTarget:    6,
		MagnitudeReference: 0.06,
		LiquidityFloor:     decimal.NewFromInt(5000),
	}
}

// Action describes what the builder decided to do with a movement event.
type Action string

const (
	// ActionCreate creates a new candidate.
	ActionCreate Action = "CREATE"
	// ActionRefresh re-triggers an existing candidate after its cooldown.
	ActionRefresh Action = "REFRESH"
	// ActionSuppress drops the event but feeds a confidence update to the
	// existing candidate for auto-promotion.
	ActionSuppress Action = "SUPPRESS"
)

// Result is the outcome of submitting a movement event.
type Result struct {
	Action Action  `json:"action"`
	Signal *Signal `json:"signal"`
	// Update carries later-arriving confirmation for a suppressed event.
	Update *ConfirmationUpdate `json:"update,omitempty"`
}

// ConfirmationUpdate feeds the quality gate's auto-promotion path without
// creating a duplicate candidate.
type ConfirmationUpdate struct {
	DedupeKey      string          `json:"dedupe_key"`
	Confidence     float64         `json:"confidence"`
	ConsensusCount int             `json:"consensus_count"`
	SharpCount     int             `json:"sharp_count"`
	Liquidity      decimal.Decimal `json:"liquidity"`
	At             time.Time       `json:"at"`
}

// Builder deduplicates movement events into candidate signals and computes
// their confidence score. The builder is stateless; the caller supplies the
// existing non-expired candidate for the event's dedupe key, if any.
type Builder struct {
	cfg         *BuilderConfig
	coreVersion string
}

// NewBuilder creates a builder bound to a core logic version.
func NewBuilder(cfg *BuilderConfig, coreVersion string) *Builder {
	if cfg == nil {
		cfg = DefaultBuilderConfig()
	}
	return &Builder{cfg: cfg, coreVersion: coreVersion}
}

// Build turns a movement event into a candidate, a refresh of an existing
// candidate, or a suppressed confirmation update.
func (b *Builder) Build(ev *movement.Event, liquidity decimal.Decimal, existing *Signal, now time.Time) *Result {
	confidence := b.Confidence(ev, liquidity)

	if existing != nil && !existing.State.Terminal() {
		if now.Sub(existing.LastEventAt) < b.cfg.Cooldown {
			return &Result{
				Action: ActionSuppress,
				Signal: existing,
				Update: &ConfirmationUpdate{
					DedupeKey:      existing.DedupeKey,
					Confidence:     confidence,
					ConsensusCount: ev.ConsensusCount,
					SharpCount:     ev.SharpCount,
					Liquidity:      liquidity,
					At:             now,
				},
			}
		}

		// Cooldown elapsed: re-trigger the existing candidate in place.
		// The dedupe key stays unique among non-expired signals.
		refreshed := *existing
		refreshed.Direction = ev.Direction
		refreshed.Confidence = confidence
		refreshed.ConsensusCount = ev.ConsensusCount
		refreshed.SharpCount = ev.SharpCount
		refreshed.FairProb = ev.FairProbEnd
		refreshed.BookImpliedProb = ev.BookProbEnd
		refreshed.LiquidityEstimate = liquidity
		refreshed.MinutesToStart = ev.Ref.StartTime.Sub(now).Minutes()
		refreshed.LastEventAt = now
		return &Result{Action: ActionRefresh, Signal: &refreshed}
	}

	sig := &Signal{
		ID:                uuid.NewString(),
		DedupeKey:         ev.Ref.Key(),
		Ref:               ev.Ref,
		Direction:         ev.Direction,
		Confidence:        confidence,
		ConsensusCount:    ev.ConsensusCount,
		SharpCount:        ev.SharpCount,
		BookImpliedProb:   ev.BookProbEnd,
		FairProb:          ev.FairProbEnd,
		MinutesToStart:    ev.Ref.StartTime.Sub(now).Minutes(),
		LiquidityEstimate: liquidity,
		State:             StateWatch,
		StateReason:       "created",
		CreatedAt:         now,
		LastEventAt:       now,
		CoreVersion:       b.coreVersion,
	}
	return &Result{Action: ActionCreate, Signal: sig}
}

// Confidence scores an event into [0,100]. Sharp sources count double in the
// consensus term; markets below the liquidity floor are penalized
// proportionally.
func (b *Builder) Confidence(ev *movement.Event, liquidity decimal.Decimal) float64 {
	cfg := b.cfg

	consensus := float64(ev.ConsensusCount+ev.SharpCount) / float64(cfg.ConsensusTarget)
	if consensus > 1 {
		consensus = 1
	}

	magnitude := ev.Magnitude / cfg.MagnitudeReference
	if magnitude > 1 {
		magnitude = 1
	}

	persistence := ev.Persistence
	if persistence > 1 {
		persistence = 1
	}

	liq := 1.0
	if cfg.LiquidityFloor.IsPositive() && liquidity.LessThan(cfg.LiquidityFloor) {
		ratio, _ := liquidity.Div(cfg.LiquidityFloor).Float64()
		if ratio < 0 {
			ratio = 0
		}
		liq = ratio
	}

	score := 100 * (cfg.ConsensusWeight*consensus +
		cfg.MagnitudeWeight*magnitude +
		cfg.PersistenceWeight*persistence +
		cfg.LiquidityWeight*liq)

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
