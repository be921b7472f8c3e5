// Package signal builds candidate signals from movement events and promotes
// them through an explicit quality-gate state machine.
package signal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsworks/linesignal/pkg/movement"
	"github.com/oddsworks/linesignal/pkg/odds"
)

// State is the lifecycle state of a signal.
type State string

const (
	StateReject    State = "REJECT"
	StateWatch     State = "WATCH"
	StateS1Promote State = "S1_PROMOTE"
	StateS2Execute State = "S2_EXECUTION_ELIGIBLE"
	StateExpired   State = "EXPIRED"
	StateSettled   State = "SETTLED"
)

// Terminal returns true for states that end a signal's lifecycle.
func (s State) Terminal() bool {
	return s == StateReject || s == StateExpired || s == StateSettled
}

// rank orders the promotable states for monotonicity checks. Terminal states
// are reachable from anywhere.
func (s State) rank() int {
	switch s {
	case StateWatch:
		return 1
	case StateS1Promote:
		return 2
	case StateS2Execute:
		return 3
	default:
		return 0
	}
}

// CanTransition reports whether moving from s to next preserves the one-way
// promotion invariant. Demotions between live states are never allowed.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next.Terminal() {
		return true
	}
	return next.rank() >= s.rank()
}

// Signal is the central long-lived entity produced by the candidate builder
// and mutated only by the quality gate (state) and periodic refresh.
type Signal struct {
	ID        string         `json:"id"`
	DedupeKey string         `json:"dedupe_key"`
	Ref       odds.MarketRef `json:"ref"`

	Direction      movement.Direction `json:"direction"`
	Confidence     float64            `json:"confidence"` // 0-100
	ConsensusCount int                `json:"consensus_count"`
	SharpCount     int                `json:"sharp_count"`

	BookImpliedProb   float64         `json:"book_implied_probability"`
	FairProb          float64         `json:"fair_probability"`
	MinutesToStart    float64         `json:"minutes_to_start"`
	LiquidityEstimate decimal.Decimal `json:"liquidity_estimate"`

	State       State  `json:"state"`
	StateReason string `json:"state_reason"`

	CreatedAt      time.Time  `json:"created_at"`
	LastEventAt    time.Time  `json:"last_event_at"`
	LastPromotedAt *time.Time `json:"last_promoted_at,omitempty"`

	// CoreVersion is fixed at creation and never changed; new threshold
	// tunings ship as a new version.
	CoreVersion string `json:"core_logic_version"`
}

// Transition records one state change with its triggering reason.
type Transition struct {
	SignalID string    `json:"signal_id"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}
