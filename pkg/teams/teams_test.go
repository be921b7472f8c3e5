package teams

import (
	"testing"
	"time"
)

func loadedResolver() *Resolver {
	r := NewResolver()
	r.Load([]Team{
		{ID: "1", Name: "Arsenal FC", Abbreviation: "ARS", League: "epl"},
		{ID: "2", Name: "Chelsea FC", Abbreviation: "CHE", League: "epl"},
		{ID: "3", Name: "Atlético Madrid", Abbreviation: "ATM", Aliases: []string{"Atleti"}, League: "la_liga"},
	})
	return r
}

func TestResolve_ExactAndAlias(t *testing.T) {
	r := loadedResolver()

	cases := []struct {
		league, raw, wantID string
	}{
		{"epl", "Arsenal FC", "1"},
		{"epl", "arsenal", "1"},
		{"epl", "ARS", "1"},
		{"la_liga", "Atletico Madrid", "3"}, // accent folded
		{"la_liga", "Atleti", "3"},          // alias
		{"epl", "Chelsea", "2"},
	}
	for _, tc := range cases {
		team, ok := r.Resolve(tc.league, tc.raw)
		if !ok {
			t.Errorf("Resolve(%q, %q): no match", tc.league, tc.raw)
			continue
		}
		if team.ID != tc.wantID {
			t.Errorf("Resolve(%q, %q) = %s, want %s", tc.league, tc.raw, team.ID, tc.wantID)
		}
	}
}

func TestResolve_Unmatched(t *testing.T) {
	r := loadedResolver()
	if _, ok := r.Resolve("epl", "Real Sociedad"); ok {
		t.Error("unknown team should not resolve")
	}
}

func TestFailureLog_UpsertCounts(t *testing.T) {
	log := NewFailureLog(loadedResolver(), nil)
	now := time.Now()

	if err := log.RecordUnmatched("epl", "Arsenal Reserves", now); err != nil {
		t.Fatal(err)
	}
	if err := log.RecordUnmatched("epl", "arsenal reserves", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	open := log.Open()
	if len(open) != 1 {
		t.Fatalf("got %d open failures, want 1 (keyed by normalized string)", len(open))
	}
	if open[0].Count != 2 {
		t.Errorf("count = %d, want 2", open[0].Count)
	}
}

func TestFailureLog_ConfirmAppliesToFutureResolves(t *testing.T) {
	r := loadedResolver()
	log := NewFailureLog(r, nil)
	now := time.Now()

	raw := "The Gunners"
	if _, ok := r.Resolve("epl", raw); ok {
		t.Fatal("setup: raw string should not resolve yet")
	}
	_ = log.RecordUnmatched("epl", raw, now)

	if !log.Confirm("epl", raw, "1", now) {
		t.Fatal("Confirm failed")
	}

	team, ok := r.Resolve("epl", raw)
	if !ok || team.ID != "1" {
		t.Error("confirmed mapping must apply to future occurrences")
	}
	if len(log.Open()) != 0 {
		t.Error("confirmed failure should no longer be open")
	}
}
