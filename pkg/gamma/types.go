// Package gamma provides a client for the secondary market-metadata API:
// events, markets, and canonical team listings.
package gamma

// Event is a metadata event grouping one or more markets.
type Event struct {
	ID        string   `json:"id"`
	Slug      string   `json:"slug"`
	Title     string   `json:"title"`
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	Active    bool     `json:"active"`
	Closed    bool     `json:"closed"`
	Markets   []Market `json:"markets"`
}

// Market is a metadata market. ClobTokenIDs arrives as a JSON-encoded array
// of token id strings.
type Market struct {
	ID           string `json:"id"`
	ConditionID  string `json:"conditionId"`
	Question     string `json:"question"`
	Slug         string `json:"slug"`
	Outcomes     string `json:"outcomes"`     // JSON-encoded array
	ClobTokenIDs string `json:"clobTokenIds"` // JSON-encoded array
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
	Liquidity    string `json:"liquidity"`
	Volume       string `json:"volume"`
}

// TeamEntry is one canonical team from the metadata API.
type TeamEntry struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Abbreviation string  `json:"abbreviation"`
	Alias        *string `json:"alias"`
	League       string  `json:"league"`
}

// EventsFilter filters the events listing.
type EventsFilter struct {
	Slug   string
	Tag    string
	TagID  string
	Active *bool
	Closed *bool
	Limit  int
	Offset int
}

// MarketsFilter filters the markets listing.
type MarketsFilter struct {
	Slug        string
	ConditionID string
	Active      *bool
	Closed      *bool
	Limit       int
	Offset      int
}

// BoolPtr returns a pointer to b, for filter fields.
func BoolPtr(b bool) *bool {
	return &b
}
