// Package movement detects meaningful odds movement from rolling windows of
// quotes. A movement event is emitted only when magnitude, velocity, and
// cross-source consensus thresholds hold simultaneously.
package movement

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/oddsworks/linesignal/pkg/odds"
)

// Direction is the direction of a probability move for the home outcome.
type Direction string

const (
	DirectionUp   Direction = "UP"   // toward the home outcome
	DirectionDown Direction = "DOWN" // away from the home outcome
)

// Config holds detection thresholds. Values ship as part of a named core
// version and are never edited in place.
type Config struct {
	Window             time.Duration // rolling window length (5-15m)
	MagnitudeThreshold float64       // min abs change in de-vigged prob
	VelocityThreshold  float64       // min sustained change per minute
	ConsensusSources   int           // min sources moving the same direction
	SourceMoveEpsilon  float64       // min per-source implied move to count
	SubWindows         int           // sub-windows for persistence scoring
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Window:             10 * time.Minute,
		MagnitudeThreshold: 0.03,
		VelocityThreshold:  0.002,
		ConsensusSources:   3,
		SourceMoveEpsilon:  0.002,
		SubWindows:         3,
	}
}

// Event is a directional movement detected within one window. Events are
// ephemeral inputs to the candidate builder and are not persisted.
type Event struct {
	MarketKey      string         `json:"market_key"`
	Ref            odds.MarketRef `json:"ref"`
	Direction      Direction      `json:"direction"`
	Magnitude      float64        `json:"magnitude"`
	Velocity       float64        `json:"velocity"` // prob change per minute
	ConsensusCount int            `json:"consensus_count"`
	SharpCount     int            `json:"sharp_count"`
	Persistence    float64        `json:"persistence"` // 0-1 across sub-windows
	FairProbStart  float64        `json:"fair_prob_start"`
	FairProbEnd    float64        `json:"fair_prob_end"`
	BookProbEnd    float64        `json:"book_prob_end"` // vig included, window end
	WindowStart    time.Time      `json:"window_start"`
	WindowEnd      time.Time      `json:"window_end"`
}

// Detector evaluates quote windows for one market at a time.
type Detector struct {
	cfg       *Config
	estimator *odds.Estimator
}

// NewDetector creates a detector using the given estimator for de-vigging.
func NewDetector(cfg *Config, estimator *odds.Estimator) *Detector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if estimator == nil {
		estimator = odds.NewEstimator(nil)
	}
	return &Detector{cfg: cfg, estimator: estimator}
}

// Detect returns at most one event for the window ending at now. Quotes
// outside the window are ignored. Draw-capable market types are out of scope
// for movement-based signal generation and always return nil.
func (d *Detector) Detect(ref odds.MarketRef, quotes []odds.Quote, now time.Time) *Event {
	if ref.MarketType.DrawCapable() {
		return nil
	}

	windowStart := now.Add(-d.cfg.Window)
	window := filterWindow(quotes, windowStart, now)
	if len(window) == 0 {
		return nil
	}

	// Fair probability trajectory for the home outcome.
	points := d.fairTrajectory(window)
	if len(points) < 2 {
		return nil
	}

	delta := points[len(points)-1].prob - points[0].prob
	magnitude := math.Abs(delta)
	if magnitude < d.cfg.MagnitudeThreshold {
		return nil
	}

	velocity := regressionVelocity(points)
	if math.Abs(velocity) < d.cfg.VelocityThreshold || !sameSign(velocity, delta) {
		return nil
	}

	consensus, sharp := d.consensus(window, delta)
	if consensus < d.cfg.ConsensusSources {
		return nil
	}

	direction := DirectionUp
	if delta < 0 {
		direction = DirectionDown
	}

	return &Event{
		MarketKey:      window[0].MarketKey,
		Ref:            ref,
		Direction:      direction,
		Magnitude:      magnitude,
		Velocity:       math.Abs(velocity),
		ConsensusCount: consensus,
		SharpCount:     sharp,
		Persistence:    d.persistence(points, delta),
		FairProbStart:  points[0].prob,
		FairProbEnd:    points[len(points)-1].prob,
		BookProbEnd:    bookProbEnd(window),
		WindowStart:    windowStart,
		WindowEnd:      now,
	}
}

type probPoint struct {
	minutes float64 // minutes since window start
	prob    float64
	at      time.Time
}

// fairTrajectory de-vigs the market at each observation timestamp using the
// quotes seen so far in the window (latest quote per source per outcome).
func (d *Detector) fairTrajectory(window []odds.Quote) []probPoint {
	sorted := make([]odds.Quote, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.Before(sorted[j].ObservedAt)
	})

	start := sorted[0].ObservedAt
	latest := make(map[string]odds.Quote) // sourceID|outcome -> quote

	var points []probPoint
	for i, q := range sorted {
		latest[q.SourceID+"|"+string(q.Outcome)] = q

		// Only evaluate at distinct timestamps.
		if i+1 < len(sorted) && sorted[i+1].ObservedAt.Equal(q.ObservedAt) {
			continue
		}

		snapshot := make([]odds.Quote, 0, len(latest))
		for _, lq := range latest {
			snapshot = append(snapshot, lq)
		}
		fair, err := d.estimator.Estimate(snapshot)
		if err != nil {
			continue
		}
		p := fair.ProbFor(odds.OutcomeHome)
		if p == 0 {
			continue
		}
		points = append(points, probPoint{
			minutes: q.ObservedAt.Sub(start).Minutes(),
			prob:    p,
			at:      q.ObservedAt,
		})
	}
	return points
}

// consensus counts independent sources whose own implied probability for the
// home outcome moved in the same direction as delta within the window.
func (d *Detector) consensus(window []odds.Quote, delta float64) (count, sharp int) {
	type span struct {
		first, last odds.Quote
		set         bool
	}
	bySource := make(map[string]*span)
	for _, q := range window {
		if q.Outcome != odds.OutcomeHome {
			continue
		}
		s, ok := bySource[q.SourceID]
		if !ok {
			s = &span{}
			bySource[q.SourceID] = s
		}
		if !s.set || q.ObservedAt.Before(s.first.ObservedAt) {
			s.first = q
		}
		if !s.set || q.ObservedAt.After(s.last.ObservedAt) {
			s.last = q
		}
		s.set = true
	}

	for _, s := range bySource {
		move := s.last.ImpliedProb() - s.first.ImpliedProb()
		if math.Abs(move) < d.cfg.SourceMoveEpsilon || !sameSign(move, delta) {
			continue
		}
		count++
		if s.last.Sharp {
			sharp++
		}
	}
	return count, sharp
}

// persistence returns the fraction of sub-windows whose net move agrees in
// sign with the overall move.
func (d *Detector) persistence(points []probPoint, delta float64) float64 {
	n := d.cfg.SubWindows
	if n < 2 || len(points) < n+1 {
		return 1
	}
	total := points[len(points)-1].minutes - points[0].minutes
	if total <= 0 {
		return 1
	}
	agree := 0
	for i := 0; i < n; i++ {
		lo := points[0].minutes + total*float64(i)/float64(n)
		hi := points[0].minutes + total*float64(i+1)/float64(n)
		first, last, ok := spanInRange(points, lo, hi)
		if !ok {
			continue
		}
		if sameSign(last-first, delta) {
			agree++
		}
	}
	return float64(agree) / float64(n)
}

func spanInRange(points []probPoint, lo, hi float64) (first, last float64, ok bool) {
	found := false
	for _, p := range points {
		if p.minutes < lo || p.minutes > hi {
			continue
		}
		if !found {
			first = p.prob
			found = true
		}
		last = p.prob
	}
	return first, last, found
}

// regressionVelocity fits prob against minutes and returns the slope.
func regressionVelocity(points []probPoint) float64 {
	if len(points) < 2 {
		return 0
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.minutes
		ys[i] = p.prob
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(slope) {
		return 0
	}
	return slope
}

// bookProbEnd averages the latest implied home probability per source, vig
// included.
func bookProbEnd(window []odds.Quote) float64 {
	latest := make(map[string]odds.Quote)
	for _, q := range window {
		if q.Outcome != odds.OutcomeHome {
			continue
		}
		if cur, ok := latest[q.SourceID]; !ok || q.ObservedAt.After(cur.ObservedAt) {
			latest[q.SourceID] = q
		}
	}
	if len(latest) == 0 {
		return 0
	}
	var sum float64
	for _, q := range latest {
		sum += q.ImpliedProb()
	}
	return sum / float64(len(latest))
}

func filterWindow(quotes []odds.Quote, start, end time.Time) []odds.Quote {
	out := make([]odds.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.ObservedAt.Before(start) || q.ObservedAt.After(end) {
			continue
		}
		out = append(out, q)
	}
	return out
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
