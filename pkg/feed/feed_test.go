package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/oddsworks/linesignal/pkg/odds"
)

func TestParse_NamingConventions(t *testing.T) {
	n := &Normalizer{SharpSources: map[string]bool{"pinnacle": true}}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want odds.Quote
	}{
		{
			"canonical fields",
			`{"source_id":"pinnacle","market_key":"m1","outcome":"HOME","price":2.10,"observed_at":"2026-03-01T11:58:00Z"}`,
			odds.Quote{SourceID: "pinnacle", MarketKey: "m1", Outcome: odds.OutcomeHome, Price: 2.10, Sharp: true,
				ObservedAt: time.Date(2026, 3, 1, 11, 58, 0, 0, time.UTC)},
		},
		{
			"alternate names",
			`{"book":"book2","market":"m1","side":"away","odds":"1.95"}`,
			odds.Quote{SourceID: "book2", MarketKey: "m1", Outcome: odds.OutcomeAway, Price: 1.95, ObservedAt: now},
		},
		{
			"numeric side codes",
			`{"source":"book3","event_id":"m2","selection":"X","decimal_odds":3.4,"ts":"not-a-time"}`,
			odds.Quote{SourceID: "book3", MarketKey: "m2", Outcome: odds.OutcomeDraw, Price: 3.4, ObservedAt: now},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Parse([]byte(tt.raw), now)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	n := &Normalizer{}
	now := time.Now()

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `nope`},
		{"missing source", `{"market":"m1","side":"HOME","price":2.0}`},
		{"missing price", `{"source":"s","market":"m1","side":"HOME"}`},
		{"price at or below 1", `{"source":"s","market":"m1","side":"HOME","price":1.0}`},
		{"unknown outcome", `{"source":"s","market":"m1","side":"BOTH","price":2.0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := n.Parse([]byte(tt.raw), now); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestSubscriber_DeliversQuotesAndResubscribes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotSubscribe subscribeMsg

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.ReadJSON(&gotSubscribe); err != nil {
			return
		}
		quote := `{"source_id":"pinnacle","market_key":"m1","outcome":"HOME","price":2.10}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(quote)); err != nil {
			return
		}
		// Hold the connection open until the client drops it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan odds.Quote, 1)
	cfg := DefaultFeedConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	sub := NewSubscriber(cfg, &Normalizer{SharpSources: map[string]bool{"pinnacle": true}},
		func(q odds.Quote) {
			select {
			case received <- q:
			default:
			}
			cancel()
		}, zerolog.Nop())
	sub.Subscribe("m1")

	err := sub.Run(ctx)
	if err != context.Canceled {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	select {
	case q := <-received:
		if q.MarketKey != "m1" || !q.Sharp {
			t.Errorf("quote = %+v", q)
		}
	default:
		t.Fatal("no quote delivered")
	}
	if gotSubscribe.Type != "subscribe" || len(gotSubscribe.Markets) != 1 {
		t.Errorf("subscribe message = %+v", gotSubscribe)
	}
}

func TestSubscriber_ReconnectCallback(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection immediately to force a reconnect.
		conn.Close()
	}))
	defer srv.Close()

	var reconnects int
	cfg := DefaultFeedConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.ReconnectMinDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 2 * time.Millisecond
	cfg.MaxReconnectAttempts = 2
	cfg.OnReconnect = func() { reconnects++ }

	sub := NewSubscriber(cfg, nil, func(odds.Quote) {}, zerolog.Nop())
	if err := sub.Run(context.Background()); err == nil {
		t.Fatal("expected an error once reconnect attempts are exhausted")
	}
	if reconnects != 2 {
		t.Errorf("reconnect callback fired %d times, want 2", reconnects)
	}
}
