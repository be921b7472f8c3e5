package gamma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
}

func TestListEvents_FilterParams(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("tag_id") != "82" || q.Get("closed") != "false" || q.Get("limit") != "50" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]Event{
			{ID: "1", Slug: "epl-ars-che", Title: "Arsenal vs Chelsea"},
		})
	})

	events, err := client.ListEvents(context.Background(), &EventsFilter{
		TagID:  "82",
		Closed: BoolPtr(false),
		Limit:  50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Slug != "epl-ars-che" {
		t.Errorf("events = %+v", events)
	}
}

func TestListTeams(t *testing.T) {
	alias := "Gunners"
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/teams" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]TeamEntry{
			{ID: 7, Name: "Arsenal", Abbreviation: "ARS", Alias: &alias, League: "EPL"},
		})
	})

	teams, err := client.ListTeams(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(teams) != 1 || teams[0].Name != "Arsenal" || *teams[0].Alias != "Gunners" {
		t.Errorf("teams = %+v", teams)
	}
}

func TestMarketTokenIDs(t *testing.T) {
	m := &Market{ClobTokenIDs: `["111","222"]`}
	ids, err := m.TokenIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "111" || ids[1] != "222" {
		t.Errorf("ids = %v", ids)
	}

	empty := &Market{}
	ids, err = empty.TokenIDs()
	if err != nil || ids != nil {
		t.Errorf("empty market: ids = %v, err = %v", ids, err)
	}

	bad := &Market{ClobTokenIDs: "not json"}
	if _, err := bad.TokenIDs(); err == nil {
		t.Error("expected decode error")
	}
}
