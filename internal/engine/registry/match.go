package registry

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"leadgen/internal/platform/models"
)

// Matches reports whether an event from source with the given payload
// satisfies the workflow's trigger conditions. An empty source list
// admits any source; every match entry is a gjson path that must
// resolve on the payload to the expected value.
func Matches(tc models.TriggerConditions, source string, payload json.RawMessage) bool {
	if len(tc.Sources) > 0 {
		found := false
		for _, s := range tc.Sources {
			if s == source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for path, expected := range tc.Match {
		got := gjson.GetBytes(payload, path)
		if !got.Exists() || got.String() != expected {
			return false
		}
	}
	return true
}
