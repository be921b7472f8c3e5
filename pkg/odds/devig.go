package odds

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when too few independent sources quote an
// outcome to produce a fair probability.
var ErrInsufficientData = errors.New("insufficient independent sources")

// EstimatorConfig configures the fair-probability estimator.
type EstimatorConfig struct {
	MinSources   int     // minimum independent sources per outcome
	OutlierSigma float64 // discard quotes beyond this many stddevs from the mean
	MinProb      float64 // implied probabilities below this are implausible
	MaxProb      float64 // implied probabilities above this are implausible
}

// DefaultEstimatorConfig returns sensible defaults.
func DefaultEstimatorConfig() *EstimatorConfig {
	return &EstimatorConfig{
		MinSources:   2,
		OutlierSigma: 2.0,
		MinProb:      0.08,
		MaxProb:      0.92,
	}
}

// Estimator removes bookmaker margin from quoted prices to produce de-vigged
// fair probabilities, weighting sharp sources when they cover the market.
type Estimator struct {
	cfg *EstimatorConfig
}

// NewEstimator creates an estimator.
func NewEstimator(cfg *EstimatorConfig) *Estimator {
	if cfg == nil {
		cfg = DefaultEstimatorConfig()
	}
	return &Estimator{cfg: cfg}
}

// FairOutcome holds the fair probability and price for one outcome.
type FairOutcome struct {
	Outcome   Outcome `json:"outcome"`
	FairProb  float64 `json:"fair_prob"`
	FairPrice float64 `json:"fair_price"`
	Sources   int     `json:"sources"` // quotes that survived filtering
}

// FairResult is the de-vigged view of one market.
type FairResult struct {
	Outcomes  map[Outcome]FairOutcome `json:"outcomes"`
	Overround float64                 `json:"overround"` // sum of raw probs - 1
	SharpOnly bool                    `json:"sharp_only"`
}

// ProbFor returns the fair probability for an outcome, or 0 if absent.
func (r *FairResult) ProbFor(o Outcome) float64 {
	if fo, ok := r.Outcomes[o]; ok {
		return fo.FairProb
	}
	return 0
}

// Estimate computes fair probabilities for one market from a set of quotes.
// If every outcome has at least one sharp-source quote, only sharp quotes are
// used and MinSources counts independent sharp sources; otherwise all quotes
// are averaged after discarding outliers beyond OutlierSigma standard
// deviations from the per-outcome mean. Returns ErrInsufficientData when any
// outcome is quoted by fewer than MinSources independent sources or its
// averaged probability is implausible.
func (e *Estimator) Estimate(quotes []Quote) (*FairResult, error) {
	byOutcome := make(map[Outcome][]Quote)
	for _, q := range quotes {
		if q.Price <= 1.0 {
			continue
		}
		byOutcome[q.Outcome] = append(byOutcome[q.Outcome], q)
	}
	if len(byOutcome) < 2 {
		return nil, ErrInsufficientData
	}

	sharpOnly := true
	for _, qs := range byOutcome {
		if !hasSharp(qs) {
			sharpOnly = false
			break
		}
	}

	raw := make(map[Outcome]float64, len(byOutcome))
	used := make(map[Outcome]int, len(byOutcome))
	for outcome, qs := range byOutcome {
		var probs []float64
		if sharpOnly {
			for _, q := range qs {
				if q.Sharp {
					probs = append(probs, q.ImpliedProb())
				}
			}
			// A single sharp book is not a consensus; the source floor
			// applies to the sharp quotes actually averaged.
			if countSharpSources(qs) < e.cfg.MinSources {
				return nil, ErrInsufficientData
			}
		} else {
			probs = dropOutliers(impliedProbs(qs), e.cfg.OutlierSigma)
			if countSources(qs) < e.cfg.MinSources {
				return nil, ErrInsufficientData
			}
		}
		if len(probs) == 0 {
			return nil, ErrInsufficientData
		}

		mean := stat.Mean(probs, nil)
		// Implausible averages are treated as missing data, not guesses.
		if mean < e.cfg.MinProb || mean > e.cfg.MaxProb {
			return nil, ErrInsufficientData
		}
		raw[outcome] = mean
		used[outcome] = len(probs)
	}

	var sum float64
	for _, p := range raw {
		sum += p
	}
	if sum <= 0 {
		return nil, ErrInsufficientData
	}

	result := &FairResult{
		Outcomes:  make(map[Outcome]FairOutcome, len(raw)),
		Overround: sum - 1,
		SharpOnly: sharpOnly,
	}
	for outcome, p := range raw {
		fair := p / sum
		result.Outcomes[outcome] = FairOutcome{
			Outcome:   outcome,
			FairProb:  fair,
			FairPrice: 1 / fair,
			Sources:   used[outcome],
		}
	}
	return result, nil
}

// CollapseToTwoWay excludes the draw outcome and renormalizes the remaining
// probabilities, for downstream consumers that operate on a head-to-head
// instrument. Returns the input unchanged when no draw is present.
func (r *FairResult) CollapseToTwoWay() *FairResult {
	if _, ok := r.Outcomes[OutcomeDraw]; !ok {
		return r
	}
	out := &FairResult{
		Outcomes:  make(map[Outcome]FairOutcome, 2),
		Overround: r.Overround,
		SharpOnly: r.SharpOnly,
	}
	var sum float64
	for o, fo := range r.Outcomes {
		if o == OutcomeDraw {
			continue
		}
		sum += fo.FairProb
	}
	if sum <= 0 {
		return out
	}
	for o, fo := range r.Outcomes {
		if o == OutcomeDraw {
			continue
		}
		p := fo.FairProb / sum
		out.Outcomes[o] = FairOutcome{
			Outcome:   o,
			FairProb:  p,
			FairPrice: 1 / p,
			Sources:   fo.Sources,
		}
	}
	return out
}

func hasSharp(qs []Quote) bool {
	for _, q := range qs {
		if q.Sharp {
			return true
		}
	}
	return false
}

func impliedProbs(qs []Quote) []float64 {
	probs := make([]float64, 0, len(qs))
	for _, q := range qs {
		probs = append(probs, q.ImpliedProb())
	}
	return probs
}

func countSources(qs []Quote) int {
	seen := make(map[string]struct{}, len(qs))
	for _, q := range qs {
		seen[q.SourceID] = struct{}{}
	}
	return len(seen)
}

func countSharpSources(qs []Quote) int {
	seen := make(map[string]struct{}, len(qs))
	for _, q := range qs {
		if q.Sharp {
			seen[q.SourceID] = struct{}{}
		}
	}
	return len(seen)
}

// dropOutliers removes values beyond sigma standard deviations from the mean.
// With fewer than three values there is no meaningful dispersion to test.
func dropOutliers(vals []float64, sigma float64) []float64 {
	if len(vals) < 3 || sigma <= 0 {
		return vals
	}
	mean, std := stat.MeanStdDev(vals, nil)
	if std == 0 || math.IsNaN(std) {
		return vals
	}
	kept := make([]float64, 0, len(vals))
	for _, v := range vals {
		if math.Abs(v-mean) <= sigma*std {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return vals
	}
	return kept
}
