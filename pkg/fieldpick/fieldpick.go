// Package fieldpick extracts a semantic field from loosely-structured data
// by trying an ordered list of (field name, transform) candidates. It backs
// both the page-scrape extractor and the feed message normalizer, which face
// multiple naming conventions for the same semantic field.
package fieldpick

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Candidate is one named field with a transform applied on match.
type Candidate struct {
	Key       string
	Transform func(v interface{}) (string, bool)
}

// AsString accepts string values and stringifies numbers.
func AsString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	}
	return "", false
}

// AsJSONStringArrayIndex returns element i of a value that is either a JSON
// array or a JSON-encoded array string.
func AsJSONStringArrayIndex(i int) func(v interface{}) (string, bool) {
	return func(v interface{}) (string, bool) {
		switch t := v.(type) {
		case []interface{}:
			if i < len(t) {
				return AsString(t[i])
			}
		case string:
			var arr []string
			if err := json.Unmarshal([]byte(t), &arr); err == nil && i < len(arr) {
				return arr[i], arr[i] != ""
			}
		}
		return "", false
	}
}

// Pick tries candidates in priority order against a decoded JSON object and
// returns the first transformed match.
func Pick(obj map[string]interface{}, candidates []Candidate) (string, bool) {
	for _, c := range candidates {
		v, ok := obj[c.Key]
		if !ok {
			continue
		}
		transform := c.Transform
		if transform == nil {
			transform = AsString
		}
		if s, ok := transform(v); ok {
			return s, true
		}
	}
	return "", false
}

// PickPath walks nested objects along path segments, then picks candidates
// at the final object.
func PickPath(obj map[string]interface{}, path []string, candidates []Candidate) (string, bool) {
	cur := obj
	for _, seg := range path {
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			return "", false
		}
		cur = next
	}
	return Pick(cur, candidates)
}
