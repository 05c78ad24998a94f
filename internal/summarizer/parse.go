package summarizer

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/db"
)

// Content is the structured summary extracted from model output.
type Content struct {
	Summary      string
	KeyPoints    []string
	ActionItems  []db.ActionItem
	Decisions    []string
	Participants []string
	// Degraded is set when the output was not a JSON object and Summary
	// holds the raw text.
	Degraded bool
}

// ParseContent decodes model output. Output that is not a JSON object is
// kept verbatim as the summary with every list empty. Individual fields of
// the wrong shape are left empty.
func ParseContent(raw string) Content {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&fields); err != nil || fields == nil || dec.More() {
		return fallback(raw)
	}

	c := Content{
		KeyPoints:    []string{},
		ActionItems:  []db.ActionItem{},
		Decisions:    []string{},
		Participants: []string{},
	}
	decodeField(fields["summary"], &c.Summary)
	decodeField(fields["key_points"], &c.KeyPoints)
	decodeField(fields["decisions"], &c.Decisions)
	decodeField(fields["participants"], &c.Participants)
	c.ActionItems = decodeActionItems(fields["action_items"])
	return c
}

func fallback(raw string) Content {
	return Content{
		Summary:      raw,
		KeyPoints:    []string{},
		ActionItems:  []db.ActionItem{},
		Decisions:    []string{},
		Participants: []string{},
		Degraded:     true,
	}
}

// decodeField leaves dst untouched when msg is absent, null or mistyped.
func decodeField[T any](msg json.RawMessage, dst *T) {
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return
	}
	var v T
	if err := json.Unmarshal(msg, &v); err != nil {
		return
	}
	*dst = v
}

type rawActionItem struct {
	Task  string `json:"task"`
	Item  string `json:"item"`
	Owner string `json:"owner"`
}

// decodeActionItems accepts objects keyed task or item, and bare strings.
func decodeActionItems(msg json.RawMessage) []db.ActionItem {
	items := []db.ActionItem{}
	var elems []json.RawMessage
	decodeField(msg, &elems)
	for _, e := range elems {
		var s string
		if err := json.Unmarshal(e, &s); err == nil {
			if s != "" {
				items = append(items, db.ActionItem{Task: s})
			}
			continue
		}
		var r rawActionItem
		if err := json.Unmarshal(e, &r); err != nil {
			continue
		}
		task := r.Task
		if task == "" {
			task = r.Item
		}
		if task == "" && r.Owner == "" {
			continue
		}
		items = append(items, db.ActionItem{Task: task, Owner: r.Owner})
	}
	return items
}
