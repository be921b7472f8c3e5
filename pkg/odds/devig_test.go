package odds

import (
	"errors"
	"math"
	"testing"
	"time"
)

func quote(source string, outcome Outcome, price float64, sharp bool) Quote {
	return Quote{
		SourceID:   source,
		MarketKey:  "epl:ars-che:ml",
		Outcome:    outcome,
		Price:      price,
		Sharp:      sharp,
		ObservedAt: time.Now(),
	}
}

func TestEstimate_ProbsSumToOne(t *testing.T) {
	e := NewEstimator(nil)

	// Overround book: implied probs sum to ~1.05
	quotes := []Quote{
		quote("pinnacle", OutcomeHome, 1.80, true),
		quote("pinnacle", OutcomeAway, 2.30, true),
		quote("circa", OutcomeHome, 1.78, true),
		quote("circa", OutcomeAway, 2.25, true),
	}

	result, err := e.Estimate(quotes)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	sum := 0.0
	for _, fo := range result.Outcomes {
		sum += fo.FairProb
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("fair probs sum to %f, want 1.0", sum)
	}
	if result.Overround <= 0 {
		t.Errorf("expected positive overround, got %f", result.Overround)
	}
}

func TestEstimate_SharpOnlyWhenCovered(t *testing.T) {
	e := NewEstimator(nil)

	// Two sharp sources quote both outcomes; a wildly different soft quote
	// should not move the result.
	quotes := []Quote{
		quote("pinnacle", OutcomeHome, 2.00, true),
		quote("pinnacle", OutcomeAway, 2.00, true),
		quote("circa", OutcomeHome, 2.00, true),
		quote("circa", OutcomeAway, 2.00, true),
		quote("softbook", OutcomeHome, 1.20, false),
		quote("softbook", OutcomeAway, 5.00, false),
	}

	result, err := e.Estimate(quotes)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if !result.SharpOnly {
		t.Error("expected sharp-only estimation")
	}
	home := result.ProbFor(OutcomeHome)
	if math.Abs(home-0.5) > 1e-9 {
		t.Errorf("home prob = %f, want 0.5 from sharp quotes only", home)
	}
}

func TestEstimate_SingleSharpSourceInsufficient(t *testing.T) {
	e := NewEstimator(nil)

	// Sharp coverage switches the estimator to sharp-only mode, where the
	// source floor counts sharp books. One sharp plus one soft source must
	// not produce a fair probability from a single sharp quote.
	quotes := []Quote{
		quote("pinnacle", OutcomeHome, 1.90, true),
		quote("pinnacle", OutcomeAway, 2.10, true),
		quote("softbook", OutcomeHome, 1.85, false),
		quote("softbook", OutcomeAway, 2.05, false),
	}

	_, err := e.Estimate(quotes)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("got err %v, want ErrInsufficientData", err)
	}
}

func TestEstimate_InsufficientSources(t *testing.T) {
	e := NewEstimator(&EstimatorConfig{
		MinSources:   2,
		OutlierSigma: 2.0,
		MinProb:      0.08,
		MaxProb:      0.92,
	})

	// Only one independent source per outcome.
	quotes := []Quote{
		quote("pinnacle", OutcomeHome, 1.90, true),
		quote("pinnacle", OutcomeAway, 2.10, true),
	}

	_, err := e.Estimate(quotes)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("got err %v, want ErrInsufficientData", err)
	}
}

func TestEstimate_ImplausibleProbTreatedAsMissing(t *testing.T) {
	e := NewEstimator(nil)

	// Home implied prob ~0.95 is outside the plausible band.
	quotes := []Quote{
		quote("a", OutcomeHome, 1.05, false),
		quote("b", OutcomeHome, 1.05, false),
		quote("a", OutcomeAway, 15.0, false),
		quote("b", OutcomeAway, 15.0, false),
	}

	_, err := e.Estimate(quotes)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("got err %v, want ErrInsufficientData", err)
	}
}

func TestEstimate_OutlierQuoteDiscarded(t *testing.T) {
	e := NewEstimator(nil)

	// No sharp coverage, so all quotes are averaged with outlier rejection.
	// The 1.05 HOME quote is far from the cluster at ~2.0.
	quotes := []Quote{
		quote("a", OutcomeHome, 2.00, false),
		quote("b", OutcomeHome, 2.02, false),
		quote("c", OutcomeHome, 1.98, false),
		quote("d", OutcomeHome, 2.00, false),
		quote("e", OutcomeHome, 2.01, false),
		quote("f", OutcomeHome, 1.05, false),
		quote("a", OutcomeAway, 2.00, false),
		quote("b", OutcomeAway, 2.02, false),
		quote("c", OutcomeAway, 1.98, false),
	}

	result, err := e.Estimate(quotes)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	home := result.ProbFor(OutcomeHome)
	if home > 0.55 {
		t.Errorf("home prob %f suggests the outlier quote was not discarded", home)
	}
}

func TestCollapseToTwoWay(t *testing.T) {
	e := NewEstimator(nil)
	quotes := []Quote{
		quote("pinnacle", OutcomeHome, 2.50, true),
		quote("pinnacle", OutcomeDraw, 3.30, true),
		quote("pinnacle", OutcomeAway, 2.90, true),
		quote("circa", OutcomeHome, 2.45, true),
		quote("circa", OutcomeDraw, 3.25, true),
		quote("circa", OutcomeAway, 2.85, true),
	}

	result, err := e.Estimate(quotes)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	twoWay := result.CollapseToTwoWay()

	if _, ok := twoWay.Outcomes[OutcomeDraw]; ok {
		t.Fatal("draw outcome should be excluded")
	}
	sum := twoWay.ProbFor(OutcomeHome) + twoWay.ProbFor(OutcomeAway)
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("collapsed probs sum to %f, want 1.0", sum)
	}
}
