// Package clob provides a read-only client for the primary market-data API:
// market lookup by condition id and order books for liquidity estimation.
package clob

// Market is a tradable market as reported by the primary API.
type Market struct {
	ConditionID string  `json:"condition_id"`
	QuestionID  string  `json:"question_id"`
	Question    string  `json:"question"`
	MarketSlug  string  `json:"market_slug"`
	Active      bool    `json:"active"`
	Closed      bool    `json:"closed"`
	EndDateISO  string  `json:"end_date_iso"`
	Tokens      []Token `json:"tokens"`
}

// Token is one outcome token of a market.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// MarketsPage is one page of the paginated market list.
type MarketsPage struct {
	Limit      int      `json:"limit"`
	Count      int      `json:"count"`
	NextCursor string   `json:"next_cursor"`
	Data       []Market `json:"data"`
}

// OrderBook is the current book for one token.
type OrderBook struct {
	Market    string       `json:"market"`
	TokenID   string       `json:"asset_id"`
	Timestamp string       `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// PriceLevel is one level of the book. Prices and sizes arrive as strings.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// EndCursor marks the final page of a cursor-paginated listing.
const EndCursor = "LTE="
