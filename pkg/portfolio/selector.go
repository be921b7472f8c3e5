package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScoreConfig is the single bet-score formula used at every selection entry
// point: a confidence term and a net-edge term, weighted.
type ScoreConfig struct {
	ConfidenceWeight float64
	EdgeWeight       float64
	// EdgeReference is the net edge that earns the full edge term.
	EdgeReference float64
}

// DefaultScoreConfig weights confidence and edge equally, with a 10% net
// edge earning full marks.
func DefaultScoreConfig() *ScoreConfig {
	return &ScoreConfig{
		ConfidenceWeight: 0.5,
		EdgeWeight:       0.5,
		EdgeReference:    0.10,
	}
}

// BetScore combines a 0-100 confidence and a net edge into a 0-100 score.
func (c *ScoreConfig) BetScore(confidence, netEdge float64) float64 {
	edgeTerm := netEdge / c.EdgeReference
	if edgeTerm > 1 {
		edgeTerm = 1
	}
	if edgeTerm < 0 {
		edgeTerm = 0
	}
	score := c.ConfidenceWeight*confidence + c.EdgeWeight*edgeTerm*100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Candidate is one sized signal offered to the selector.
type Candidate struct {
	SignalID      string
	EventKey      string // dedupe key of the underlying event
	League        string
	StartTime     time.Time
	InstrumentRef string
	Odds          float64 // quoted price as implied probability
	FairProb      float64
	Edge          float64 // net edge
	Score         float64
	Stake         decimal.Decimal
}

// RecommendedBet is one accepted recommendation, written once per cycle.
type RecommendedBet struct {
	ID             string          `json:"id"`
	SignalID       string          `json:"signal_id"`
	InstrumentRef  string          `json:"instrument_ref"`
	Odds           float64         `json:"odds"`
	FairProb       float64         `json:"fair_probability"`
	Edge           float64         `json:"edge"`
	BetScore       float64         `json:"bet_score"`
	StakeUnits     decimal.Decimal `json:"stake_units"`
	ConfidenceTier string          `json:"confidence_tier"`
	Rationale      string          `json:"rationale"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Rejection records why a candidate was not selected.
type Rejection struct {
	SignalID string `json:"signal_id"`
	Reason   string `json:"reason"`
}

// SelectorConfig bounds one selection batch.
type SelectorConfig struct {
	MaxCount         int
	PerEventCap      decimal.Decimal
	TotalExposureCap decimal.Decimal
	PerLeagueCap     int
	PerClusterCap    int
	// ClusterWindow groups bets whose start times fall within this span.
	ClusterWindow time.Duration
	// CapPenalty is subtracted from the score when a league or cluster cap
	// is exceeded; the candidate survives only if the penalized score still
	// clears AcceptFloor.
	CapPenalty  float64
	AcceptFloor float64
}

// DefaultSelectorConfig returns the standard batch limits.
func DefaultSelectorConfig() *SelectorConfig {
	return &SelectorConfig{
		MaxCount:         10,
		PerEventCap:      decimal.NewFromInt(500),
		TotalExposureCap: decimal.NewFromInt(2000),
		PerLeagueCap:     2,
		PerClusterCap:    3,
		ClusterWindow:    2 * time.Hour,
		CapPenalty:       15,
		AcceptFloor:      70,
	}
}

// Selector greedily picks candidates by descending score.
type Selector struct {
	cfg *SelectorConfig
}

// NewSelector creates a selector. cfg may be nil for defaults.
func NewSelector(cfg *SelectorConfig) *Selector {
	if cfg == nil {
		cfg = DefaultSelectorConfig()
	}
	return &Selector{cfg: cfg}
}

// Select makes one greedy pass over candidates sorted by score descending
// (ties broken by signal id, so the pass is deterministic for equal inputs).
// Hard caps reject outright; league and time-cluster caps first apply a
// score penalty and reject only when the penalized score falls below the
// acceptance floor.
func (s *Selector) Select(candidates []Candidate, now time.Time) ([]RecommendedBet, []Rejection) {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].SignalID < ordered[j].SignalID
	})

	var accepted []RecommendedBet
	var rejected []Rejection
	var starts []time.Time
	exposure := decimal.Zero
	byLeague := map[string]int{}
	byEvent := map[string]decimal.Decimal{}

	for _, c := range ordered {
		if len(accepted) >= s.cfg.MaxCount {
			rejected = append(rejected, Rejection{c.SignalID,
				fmt.Sprintf("batch already holds max %d bets", s.cfg.MaxCount)})
			continue
		}
		if byEvent[c.EventKey].Add(c.Stake).GreaterThan(s.cfg.PerEventCap) {
			rejected = append(rejected, Rejection{c.SignalID,
				fmt.Sprintf("per-event stake cap %s exceeded", s.cfg.PerEventCap)})
			continue
		}
		if exposure.Add(c.Stake).GreaterThan(s.cfg.TotalExposureCap) {
			rejected = append(rejected, Rejection{c.SignalID,
				fmt.Sprintf("total exposure cap %s exceeded", s.cfg.TotalExposureCap)})
			continue
		}

		score := c.Score
		if byLeague[c.League] >= s.cfg.PerLeagueCap {
			score -= s.cfg.CapPenalty
			if score < s.cfg.AcceptFloor {
				rejected = append(rejected, Rejection{c.SignalID,
					fmt.Sprintf("league %q cap %d exceeded", c.League, s.cfg.PerLeagueCap)})
				continue
			}
		}
		if s.clusterCount(starts, c.StartTime) >= s.cfg.PerClusterCap {
			score -= s.cfg.CapPenalty
			if score < s.cfg.AcceptFloor {
				rejected = append(rejected, Rejection{c.SignalID,
					fmt.Sprintf("time-cluster cap %d within %s exceeded",
						s.cfg.PerClusterCap, s.cfg.ClusterWindow)})
				continue
			}
		}

		byLeague[c.League]++
		byEvent[c.EventKey] = byEvent[c.EventKey].Add(c.Stake)
		exposure = exposure.Add(c.Stake)
		starts = append(starts, c.StartTime)

		accepted = append(accepted, RecommendedBet{
			ID:             uuid.NewString(),
			SignalID:       c.SignalID,
			InstrumentRef:  c.InstrumentRef,
			Odds:           c.Odds,
			FairProb:       c.FairProb,
			Edge:           c.Edge,
			BetScore:       score,
			StakeUnits:     c.Stake,
			ConfidenceTier: tierFor(score),
			Rationale:      fmt.Sprintf("score %.1f, edge %.4f, stake %s", score, c.Edge, c.Stake),
			CreatedAt:      now,
		})
	}
	return accepted, rejected
}

// clusterCount counts already-accepted start times within the cluster window
// of t.
func (s *Selector) clusterCount(starts []time.Time, t time.Time) int {
	n := 0
	for _, st := range starts {
		d := t.Sub(st)
		if d < 0 {
			d = -d
		}
		if d <= s.cfg.ClusterWindow {
			n++
		}
	}
	return n
}

func tierFor(score float64) string {
	switch {
	case score >= 85:
		return "A"
	case score >= 70:
		return "B"
	default:
		return "C"
	}
}
