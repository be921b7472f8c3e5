// Package odds provides the quote model and fair-probability estimation
// (de-vigging) for sportsbook and prediction-market prices.
package odds

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Outcome identifies one side of a market.
type Outcome string

const (
	OutcomeHome Outcome = "HOME"
	OutcomeAway Outcome = "AWAY"
	OutcomeDraw Outcome = "DRAW"
)

// MarketType represents the type of market being quoted.
type MarketType string

const (
	MarketTypeMoneyline MarketType = "MONEYLINE" // head-to-head, two outcomes
	MarketTypeThreeWay  MarketType = "1X2"       // home/draw/away
	MarketTypeTotal     MarketType = "TOTAL"
	MarketTypeSpread    MarketType = "SPREAD"
)

// DrawCapable returns true if the market type includes a draw outcome.
// Draw-capable markets are excluded from movement-based signal generation.
func (m MarketType) DrawCapable() bool {
	return m == MarketTypeThreeWay
}

// Quote is one source's price for one outcome of one market at one instant.
// Quotes are append-only and never mutated.
type Quote struct {
	SourceID   string    `json:"source_id"`
	MarketKey  string    `json:"market_key"`
	Outcome    Outcome   `json:"outcome"`
	Price      float64   `json:"price"` // decimal odds, > 1.0
	Sharp      bool      `json:"sharp"`
	ObservedAt time.Time `json:"observed_at"`
}

// ImpliedProb returns the raw implied probability of the quoted price.
func (q Quote) ImpliedProb() float64 {
	if q.Price <= 0 {
		return 0
	}
	return 1 / q.Price
}

// MarketRef identifies a real-world market across repeated detections.
type MarketRef struct {
	League     string     `json:"league"`
	HomeTeam   string     `json:"home_team"`
	AwayTeam   string     `json:"away_team"`
	MarketType MarketType `json:"market_type"`
	StartTime  time.Time  `json:"start_time"`
}

// Key returns the dedupe key for the market reference.
func (r MarketRef) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d",
		r.League, r.HomeTeam, r.AwayTeam, r.MarketType, r.StartTime.Unix())
}

// ParseKey reverses Key.
func ParseKey(key string) (MarketRef, error) {
	parts := strings.Split(key, "|")
	if len(parts) != 5 {
		return MarketRef{}, fmt.Errorf("market key %q has %d fields, want 5", key, len(parts))
	}
	unix, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return MarketRef{}, fmt.Errorf("market key %q start time: %w", key, err)
	}
	return MarketRef{
		League:     parts[0],
		HomeTeam:   parts[1],
		AwayTeam:   parts[2],
		MarketType: MarketType(parts[3]),
		StartTime:  time.Unix(unix, 0).UTC(),
	}, nil
}
