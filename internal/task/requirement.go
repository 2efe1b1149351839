package task

import (
	"strings"
)

// Requirement is the structured need a task satisfies. It is resolved once at
// ingestion and stored on the metadata envelope so dedup probes can compare
// tasks by what they produce instead of by title.
type Requirement struct {
	Kind     string `json:"kind"` // collect, mine, craft, build, navigate, explore, find, advisory
	Item     string `json:"item,omitempty"`
	Quantity int    `json:"quantity"`
	Site     string `json:"site,omitempty"`
}

// Equivalent reports whether two requirements describe the same need.
// Quantity is compared exactly; a zero quantity means "unspecified" and
// matches any count of the same kind+item.
func (r *Requirement) Equivalent(o *Requirement) bool {
	if r == nil || o == nil {
		return false
	}
	if r.Kind != o.Kind || !strings.EqualFold(r.Item, o.Item) {
		return false
	}
	if r.Quantity == 0 || o.Quantity == 0 {
		return true
	}
	return r.Quantity == o.Quantity
}

// typeKinds maps task types to requirement kinds.
var typeKinds = map[string]string{
	"gathering":       "collect",
	"collection":      "collect",
	"mining":          "mine",
	"crafting":        "craft",
	"building":        "build",
	"construction":    "build",
	"navigation":      "navigate",
	"movement":        "navigate",
	"exploration":     "explore",
	"discovery":       "find",
	"advisory_action": "advisory",
}

// titleKinds is consulted when the type is unmapped; first keyword hit wins.
var titleKinds = []struct {
	keyword string
	kind    string
}{
	{"mine", "mine"},
	{"dig", "mine"},
	{"collect", "collect"},
	{"gather", "collect"},
	{"chop", "collect"},
	{"craft", "craft"},
	{"smelt", "craft"},
	{"build", "build"},
	{"construct", "build"},
	{"navigate", "navigate"},
	{"go to", "navigate"},
	{"explore", "explore"},
	{"find", "find"},
	{"locate", "find"},
}

// ResolveRequirement derives the structured requirement for a partial task.
// Returns nil when no kind can be determined; callers treat that as
// "no-requirement".
func ResolveRequirement(taskType, title string, params map[string]any) *Requirement {
	kind := typeKinds[strings.ToLower(taskType)]
	lower := strings.ToLower(title)
	if kind == "" {
		for _, tk := range titleKinds {
			if strings.Contains(lower, tk.keyword) {
				kind = tk.kind
				break
			}
		}
	}
	if kind == "" {
		return nil
	}

	req := &Requirement{Kind: kind}
	for _, key := range []string{"item", "resource", "blockType", "block_type", "output"} {
		if v, ok := params[key].(string); ok && v != "" {
			req.Item = normalizeItemName(v)
			break
		}
	}
	if req.Item == "" {
		req.Item = itemFromTitle(lower)
	}
	req.Quantity = intParam(params, "quantity", "count", "amount")
	if s, ok := params["site"].(string); ok {
		req.Site = s
	}
	return req
}

func intParam(params map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := params[k].(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return 0
}

// itemFromTitle pulls the trailing noun out of titles like "Collect 8 oak_log"
// or "Mine iron_ore". Best effort; empty when the title has no object.
func itemFromTitle(lower string) string {
	fields := strings.Fields(lower)
	if len(fields) < 2 {
		return ""
	}
	last := fields[len(fields)-1]
	last = strings.Trim(last, ".,!")
	if last == "" || isNumeric(last) {
		return ""
	}
	return normalizeItemName(last)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// normalizeItemName strips the world namespace prefix and lowercases.
func normalizeItemName(item string) string {
	item = strings.ToLower(strings.TrimSpace(item))
	return strings.TrimPrefix(item, "minecraft:")
}
