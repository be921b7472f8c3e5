package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/oddsworks/linesignal/pkg/clob"
	"github.com/oddsworks/linesignal/pkg/fieldpick"
	"github.com/oddsworks/linesignal/pkg/gamma"
	"github.com/oddsworks/linesignal/pkg/teams"
)

// Declared extractor confidences, in chain priority order.
const (
	ConfidenceDirectLookup   = 100
	ConfidenceMetadataSearch = 92
	ConfidencePageScrape     = 80
	ConfidenceFuzzySearch    = 75
)

// DirectLookup resolves by condition id against the primary market-data API.
type DirectLookup struct {
	Client *clob.Client
}

// Name implements Extractor.
func (e *DirectLookup) Name() string { return "direct_lookup" }

// Resolve implements Extractor.
func (e *DirectLookup) Resolve(ctx context.Context, q Query) (*Attempt, error) {
	if q.ConditionID == "" {
		return nil, fmt.Errorf("no condition id in query")
	}
	market, err := e.Client.GetMarket(ctx, q.ConditionID)
	if err != nil {
		return nil, fmt.Errorf("primary api lookup: %w", err)
	}
	tokenA, tokenB, err := marketTokens(market)
	if err != nil {
		return nil, err
	}
	return &Attempt{
		ConditionID: market.ConditionID,
		TokenA:      tokenA,
		TokenB:      tokenB,
		Confidence:  ConfidenceDirectLookup,
		Detail:      "matched condition id " + market.ConditionID,
	}, nil
}

// MetadataSearch resolves by normalized team names within the sport's
// category on the secondary metadata API.
type MetadataSearch struct {
	Client *gamma.Client
	// SportTags maps sport keys to metadata tag ids.
	SportTags map[string]string
}

// Name implements Extractor.
func (e *MetadataSearch) Name() string { return "metadata_search" }

// Resolve implements Extractor.
func (e *MetadataSearch) Resolve(ctx context.Context, q Query) (*Attempt, error) {
	if q.HomeTeam == "" || q.AwayTeam == "" {
		return nil, fmt.Errorf("no team names in query")
	}
	tagID, ok := e.SportTags[q.Sport]
	if !ok {
		return nil, fmt.Errorf("no metadata tag for sport %q", q.Sport)
	}

	events, err := e.Client.ListEvents(ctx, &gamma.EventsFilter{
		TagID:  tagID,
		Closed: gamma.BoolPtr(false),
		Limit:  200,
	})
	if err != nil {
		return nil, fmt.Errorf("metadata api search: %w", err)
	}

	home := teams.Normalize(q.HomeTeam)
	away := teams.Normalize(q.AwayTeam)
	for _, event := range events {
		haystack := teams.Normalize(event.Title + " " + event.Slug)
		if !strings.Contains(haystack, home) || !strings.Contains(haystack, away) {
			continue
		}
		for _, market := range event.Markets {
			if market.ConditionID == "" || market.Closed {
				continue
			}
			ids, err := market.TokenIDs()
			if err != nil || len(ids) < 2 {
				continue
			}
			return &Attempt{
				ConditionID: market.ConditionID,
				TokenA:      ids[0],
				TokenB:      ids[1],
				Confidence:  ConfidenceMetadataSearch,
				Detail:      "matched event " + event.Slug,
			}, nil
		}
	}
	return nil, fmt.Errorf("no event matched teams %q vs %q", q.HomeTeam, q.AwayTeam)
}

var (
	nextDataRe    = regexp.MustCompile(`(?s)<script[^>]+id="__NEXT_DATA__"[^>]*>(.*?)</script>`)
	conditionIDRe = regexp.MustCompile(`"condition[_]?[iI]d"\s*:\s*"(0x[0-9a-fA-F]{64})"`)
	tokenIDsRe    = regexp.MustCompile(`"clob[_]?[tT]oken[_]?[iI]ds"\s*:\s*"?\[\\?"([0-9]{10,})\\?"\s*,\s*\\?"([0-9]{10,})\\?"\]`)
)

// Naming conventions seen for the identifier fields in embedded page data,
// in priority order.
var (
	conditionCandidates = []fieldpick.Candidate{
		{Key: "conditionId"},
		{Key: "condition_id"},
	}
	tokenACandidates = []fieldpick.Candidate{
		{Key: "clobTokenIds", Transform: fieldpick.AsJSONStringArrayIndex(0)},
		{Key: "clob_token_ids", Transform: fieldpick.AsJSONStringArrayIndex(0)},
		{Key: "tokens", Transform: fieldpick.AsJSONStringArrayIndex(0)},
	}
	tokenBCandidates = []fieldpick.Candidate{
		{Key: "clobTokenIds", Transform: fieldpick.AsJSONStringArrayIndex(1)},
		{Key: "clob_token_ids", Transform: fieldpick.AsJSONStringArrayIndex(1)},
		{Key: "tokens", Transform: fieldpick.AsJSONStringArrayIndex(1)},
	}
)

// PageScrape fetches the market's public page and extracts embedded
// structured data, first by known JSON paths, then by a text-pattern scan.
type PageScrape struct {
	HTTPClient *http.Client
}

// Name implements Extractor.
func (e *PageScrape) Name() string { return "page_scrape" }

// Resolve implements Extractor.
func (e *PageScrape) Resolve(ctx context.Context, q Query) (*Attempt, error) {
	if q.MarketURL == "" {
		return nil, fmt.Errorf("no market url in query")
	}
	client := e.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", q.MarketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}

	if attempt, ok := e.fromEmbeddedJSON(body); ok {
		return attempt, nil
	}
	if attempt, ok := e.fromTextScan(body); ok {
		return attempt, nil
	}
	return nil, fmt.Errorf("no identifier fields found in page")
}

// fromEmbeddedJSON walks the known JSON paths of the embedded page state.
func (e *PageScrape) fromEmbeddedJSON(body []byte) (*Attempt, bool) {
	m := nextDataRe.FindSubmatch(body)
	if m == nil {
		return nil, false
	}
	var data map[string]interface{}
	if err := json.Unmarshal(m[1], &data); err != nil {
		return nil, false
	}

	paths := [][]string{
		{"props", "pageProps", "market"},
		{"props", "pageProps", "dehydratedState", "market"},
	}
	for _, path := range paths {
		conditionID, ok := fieldpick.PickPath(data, path, conditionCandidates)
		if !ok {
			continue
		}
		tokenA, okA := fieldpick.PickPath(data, path, tokenACandidates)
		tokenB, okB := fieldpick.PickPath(data, path, tokenBCandidates)
		if !okA || !okB {
			continue
		}
		return &Attempt{
			ConditionID: conditionID,
			TokenA:      tokenA,
			TokenB:      tokenB,
			Confidence:  ConfidencePageScrape,
			Detail:      "embedded json path " + strings.Join(path, "."),
		}, true
	}
	return nil, false
}

// fromTextScan falls back to regex patterns over the raw page.
func (e *PageScrape) fromTextScan(body []byte) (*Attempt, bool) {
	cond := conditionIDRe.FindSubmatch(body)
	toks := tokenIDsRe.FindSubmatch(body)
	if cond == nil || toks == nil {
		return nil, false
	}
	return &Attempt{
		ConditionID: string(cond[1]),
		TokenA:      string(toks[1]),
		TokenB:      string(toks[2]),
		Confidence:  ConfidencePageScrape,
		Detail:      "text-pattern scan",
	}, true
}

// FuzzySearch scans the primary API's full market list for questions that
// mention both teams, including nickname matches.
type FuzzySearch struct {
	Client *clob.Client
	// Nicknames maps a normalized team name to known alternate names.
	Nicknames map[string][]string
	// MaxPages bounds the scan; 0 means the full list.
	MaxPages int
}

// Name implements Extractor.
func (e *FuzzySearch) Name() string { return "fuzzy_search" }

// Resolve implements Extractor.
func (e *FuzzySearch) Resolve(ctx context.Context, q Query) (*Attempt, error) {
	if q.HomeTeam == "" || q.AwayTeam == "" {
		return nil, fmt.Errorf("no team names in query")
	}

	homeNames := e.namesFor(q.HomeTeam)
	awayNames := e.namesFor(q.AwayTeam)

	if e.MaxPages <= 0 {
		markets, err := e.Client.ListAllMarkets(ctx)
		if err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		if attempt := e.scan(markets, homeNames, awayNames); attempt != nil {
			return attempt, nil
		}
		return nil, fmt.Errorf("no market question matched teams %q vs %q", q.HomeTeam, q.AwayTeam)
	}

	cursor := ""
	for pages := 0; pages < e.MaxPages; pages++ {
		page, err := e.Client.ListMarkets(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		if attempt := e.scan(page.Data, homeNames, awayNames); attempt != nil {
			return attempt, nil
		}
		if page.NextCursor == "" || page.NextCursor == clob.EndCursor {
			break
		}
		cursor = page.NextCursor
	}
	return nil, fmt.Errorf("no market question matched teams %q vs %q", q.HomeTeam, q.AwayTeam)
}

// scan returns the first open market whose question mentions both teams.
func (e *FuzzySearch) scan(markets []clob.Market, homeNames, awayNames []string) *Attempt {
	for i := range markets {
		market := &markets[i]
		if market.Closed || !market.Active {
			continue
		}
		question := teams.Normalize(market.Question)
		if !containsAny(question, homeNames) || !containsAny(question, awayNames) {
			continue
		}
		tokenA, tokenB, err := marketTokens(market)
		if err != nil {
			continue
		}
		return &Attempt{
			ConditionID: market.ConditionID,
			TokenA:      tokenA,
			TokenB:      tokenB,
			Confidence:  ConfidenceFuzzySearch,
			Detail:      "matched question " + market.Question,
		}
	}
	return nil
}

func (e *FuzzySearch) namesFor(team string) []string {
	norm := teams.Normalize(team)
	names := []string{norm}
	for _, nick := range e.Nicknames[norm] {
		names = append(names, teams.Normalize(nick))
	}
	return names
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func marketTokens(m *clob.Market) (string, string, error) {
	if len(m.Tokens) < 2 {
		return "", "", fmt.Errorf("market %s has %d outcome tokens, want 2", m.ConditionID, len(m.Tokens))
	}
	return m.Tokens[0].TokenID, m.Tokens[1].TokenID, nil
}
