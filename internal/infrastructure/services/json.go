package services

import (
	"encoding/json"
	"io"

	"github.com/tidwall/gjson"
)

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// containsJSON reports whether actual contains every field of pattern.
// Objects match when each pattern key is present in actual with a containing
// value; arrays match when each pattern element is contained by some actual
// element; scalars must be equal.
func containsJSON(pattern, actual gjson.Result) bool {
	switch {
	case pattern.IsObject():
		if !actual.IsObject() {
			return false
		}
		fields := actual.Map()
		ok := true
		pattern.ForEach(func(key, want gjson.Result) bool {
			got, present := fields[key.String()]
			if !present || !containsJSON(want, got) {
				ok = false
			}
			return ok
		})
		return ok

	case pattern.IsArray():
		if !actual.IsArray() {
			return false
		}
		elems := actual.Array()
		for _, want := range pattern.Array() {
			found := false
			for _, got := range elems {
				if containsJSON(want, got) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true

	default:
		if pattern.Type != actual.Type {
			return false
		}
		if pattern.Type == gjson.Number {
			return pattern.Num == actual.Num
		}
		return pattern.String() == actual.String()
	}
}

// jsonContainsPredicate compiles a structural JSON body predicate.
func jsonContainsPredicate(pattern string) func(string) bool {
	want := gjson.Parse(pattern)
	return func(body string) bool {
		if !gjson.Valid(body) {
			return false
		}
		return containsJSON(want, gjson.Parse(body))
	}
}
