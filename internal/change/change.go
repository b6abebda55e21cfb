// Package change classifies a proposed note mutation against stored state.
package change

import (
	"bytes"
	"encoding/json"

	"noteflow/api/internal/store"
)

type Change struct {
	TitleChanged   bool
	ContentChanged bool
}

// Significant reports whether the mutation warrants a persistence write and
// a notification fan-out. Anything else is a no-op save.
func (c Change) Significant() bool {
	return c.TitleChanged || c.ContentChanged
}

// Classify compares the stored note against a proposed title/content. A nil
// field means "leave as is". Callers are expected to have trimmed input
// already; comparison is exact, except that content which round-trips as
// JSON on both sides is compared by canonical serialization, since
// concurrent fetch/edit cycles re-serialize structured content and would
// otherwise always look changed.
func Classify(stored store.Note, title, content *string) Change {
	var c Change
	if title != nil && *title != stored.Title {
		c.TitleChanged = true
	}
	if content != nil && !contentEqual(stored.Content, *content) {
		c.ContentChanged = true
	}
	return c
}

func contentEqual(stored, proposed string) bool {
	if stored == proposed {
		return true
	}
	storedJSON := canonicalJSON(stored)
	proposedJSON := canonicalJSON(proposed)
	if storedJSON == nil || proposedJSON == nil {
		return false
	}
	return bytes.Equal(storedJSON, proposedJSON)
}

func canonicalJSON(value string) []byte {
	if len(value) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return nil
	}
	normalized, err := json.Marshal(decoded)
	if err != nil {
		return nil
	}
	return normalized
}
