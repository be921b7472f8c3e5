// Package feed subscribes to a websocket quote stream and normalizes its
// messages into quotes for the detection pipeline.
package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oddsworks/linesignal/pkg/fieldpick"
	"github.com/oddsworks/linesignal/pkg/odds"
)

// Feed payloads arrive under several naming conventions for the same
// semantic field, tried in priority order.
var (
	sourceCandidates = []fieldpick.Candidate{
		{Key: "source_id"},
		{Key: "source"},
		{Key: "book"},
	}
	marketCandidates = []fieldpick.Candidate{
		{Key: "market_key"},
		{Key: "market"},
		{Key: "event_id"},
	}
	outcomeCandidates = []fieldpick.Candidate{
		{Key: "outcome"},
		{Key: "side"},
		{Key: "selection"},
	}
	priceCandidates = []fieldpick.Candidate{
		{Key: "price"},
		{Key: "odds"},
		{Key: "decimal_odds"},
	}
	timeCandidates = []fieldpick.Candidate{
		{Key: "observed_at"},
		{Key: "timestamp"},
		{Key: "ts"},
	}
)

// Normalizer converts raw feed messages into quotes.
type Normalizer struct {
	// SharpSources tags quotes from these source ids as sharp.
	SharpSources map[string]bool
}

// Parse decodes one feed message. Messages missing a required field or
// carrying a non-positive price are rejected with an error, never guessed
// at.
func (n *Normalizer) Parse(data []byte, now time.Time) (odds.Quote, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return odds.Quote{}, fmt.Errorf("decode feed message: %w", err)
	}

	source, ok := fieldpick.Pick(obj, sourceCandidates)
	if !ok {
		return odds.Quote{}, fmt.Errorf("feed message has no source field")
	}
	market, ok := fieldpick.Pick(obj, marketCandidates)
	if !ok {
		return odds.Quote{}, fmt.Errorf("feed message has no market field")
	}
	outcomeRaw, ok := fieldpick.Pick(obj, outcomeCandidates)
	if !ok {
		return odds.Quote{}, fmt.Errorf("feed message has no outcome field")
	}
	outcome, err := parseOutcome(outcomeRaw)
	if err != nil {
		return odds.Quote{}, err
	}
	priceRaw, ok := fieldpick.Pick(obj, priceCandidates)
	if !ok {
		return odds.Quote{}, fmt.Errorf("feed message has no price field")
	}
	price, err := strconv.ParseFloat(priceRaw, 64)
	if err != nil || price <= 1.0 {
		return odds.Quote{}, fmt.Errorf("invalid price %q", priceRaw)
	}

	observed := now
	if raw, ok := fieldpick.Pick(obj, timeCandidates); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			observed = t
		}
	}

	return odds.Quote{
		SourceID:   source,
		MarketKey:  market,
		Outcome:    outcome,
		Price:      price,
		Sharp:      n.SharpSources[source],
		ObservedAt: observed,
	}, nil
}

func parseOutcome(raw string) (odds.Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HOME", "H", "1":
		return odds.OutcomeHome, nil
	case "AWAY", "A", "2":
		return odds.OutcomeAway, nil
	case "DRAW", "X":
		return odds.OutcomeDraw, nil
	}
	return "", fmt.Errorf("unknown outcome %q", raw)
}
