package fieldpick

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		t.Fatal(err)
	}
	return obj
}

func TestPick_PriorityOrder(t *testing.T) {
	candidates := []Candidate{
		{Key: "market_key"},
		{Key: "market"},
	}

	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"first candidate wins", `{"market_key":"a","market":"b"}`, "a", true},
		{"falls through to second", `{"market":"b"}`, "b", true},
		{"number stringified", `{"market":42}`, "42", true},
		{"empty string skipped", `{"market_key":"  ","market":"b"}`, "b", true},
		{"nothing matches", `{"other":"x"}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Pick(decode(t, tt.raw), candidates)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Pick() = %q, %v, want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestAsJSONStringArrayIndex(t *testing.T) {
	candidates := []Candidate{
		{Key: "ids", Transform: AsJSONStringArrayIndex(1)},
	}

	// Native JSON array.
	got, ok := Pick(decode(t, `{"ids":["111","222"]}`), candidates)
	if !ok || got != "222" {
		t.Errorf("native array: got %q, %v", got, ok)
	}

	// JSON-encoded array string.
	got, ok = Pick(decode(t, `{"ids":"[\"111\",\"222\"]"}`), candidates)
	if !ok || got != "222" {
		t.Errorf("encoded array: got %q, %v", got, ok)
	}

	// Index out of range.
	if _, ok := Pick(decode(t, `{"ids":["111"]}`), candidates); ok {
		t.Error("out-of-range index should not match")
	}
}

func TestPickPath(t *testing.T) {
	obj := decode(t, `{"props":{"pageProps":{"market":{"conditionId":"0xabc"}}}}`)
	candidates := []Candidate{{Key: "conditionId"}}

	got, ok := PickPath(obj, []string{"props", "pageProps", "market"}, candidates)
	if !ok || got != "0xabc" {
		t.Errorf("PickPath() = %q, %v", got, ok)
	}

	if _, ok := PickPath(obj, []string{"props", "missing"}, candidates); ok {
		t.Error("missing path segment should not match")
	}
}
