package verify

import (
	"strings"

	"botmind/internal/task"
)

// Leaf verification classes.
type leafClass int

const (
	classUnknown leafClass = iota
	classMovement
	classInventory
	classPlacement
	classConsume
	classSensing
	classPlanning
)

// movementLeaves verify by displacement from the pre-step snapshot.
var movementLeaves = map[string]bool{
	"move_to":             true,
	"navigate":            true,
	"move_forward":        true,
	"follow_entity":       true,
	"swim_to":             true,
	"step_forward_safely": true,
}

// inventoryLeaves verify by item-count delta.
var inventoryLeaves = map[string]bool{
	"dig_block":        true,
	"acquire_material": true,
	"craft_recipe":     true,
	"smelt":            true,
	"pickup_item":      true,
}

var placementLeaves = map[string]bool{
	"place_block":           true,
	"place_torch_if_needed": true,
}

var consumeLeaves = map[string]bool{
	"consume_food": true,
	"eat_food":     true,
}

// sensingLeaves auto-pass: they observe, they do not change the world.
var sensingLeaves = map[string]bool{
	"sense_hostiles":   true,
	"get_light_level":  true,
	"scan_environment": true,
	"introspect_state": true,
	"wait":             true,
	"chat":             true,
}

// planningLeaves auto-pass: building-planning steps produce plans, not
// world effects.
var planningLeaves = map[string]bool{
	"plan_structure":    true,
	"survey_site":       true,
	"prepare_site_plan": true,
}

func classify(leaf string) leafClass {
	switch {
	case movementLeaves[leaf]:
		return classMovement
	case inventoryLeaves[leaf]:
		return classInventory
	case placementLeaves[leaf]:
		return classPlacement
	case consumeLeaves[leaf]:
		return classConsume
	case sensingLeaves[leaf]:
		return classSensing
	case planningLeaves[leaf]:
		return classPlanning
	}
	return classUnknown
}

// legacyLabels is the finite map from historical step labels to leaves.
// Label parsing happens here and nowhere else.
var legacyLabels = map[string]string{
	"move to location":  "move_to",
	"navigate to":       "move_to",
	"dig block":         "dig_block",
	"mine block":        "dig_block",
	"collect material":  "acquire_material",
	"gather resource":   "acquire_material",
	"craft item":        "craft_recipe",
	"smelt ore":         "smelt",
	"place block":       "place_block",
	"eat food":          "consume_food",
	"scan surroundings": "sense_hostiles",
}

// DeriveLeafAndArgs resolves the effective leaf and args for a step.
// Priority: explicit step meta, then a leaf-annotated label ("leaf:args"
// style annotations from upstream planners), then the legacy label map,
// then a synthetic leaf from the first label word.
func DeriveLeafAndArgs(s *task.Step) (string, map[string]any) {
	if s.Meta.Leaf != "" {
		return s.Meta.Leaf, s.Meta.Args
	}

	label := strings.TrimSpace(strings.ToLower(s.Label))
	if rest, ok := strings.CutPrefix(label, "leaf:"); ok {
		name, arg, found := strings.Cut(rest, " ")
		args := map[string]any{}
		if found {
			args["target"] = strings.TrimSpace(arg)
		}
		return strings.TrimSpace(name), args
	}

	for prefix, leaf := range legacyLabels {
		if strings.HasPrefix(label, prefix) {
			args := map[string]any{}
			if rest := strings.TrimSpace(strings.TrimPrefix(label, prefix)); rest != "" {
				args["target"] = rest
			}
			return leaf, args
		}
	}

	fields := strings.Fields(label)
	if len(fields) == 0 {
		return "", nil
	}
	// Synthetic leaf: first word of the label. Verification treats it as
	// unmapped unless it happens to match a known leaf.
	return fields[0], nil
}

// oreDrops maps mined block types to the item they actually drop.
var oreDrops = map[string]string{
	"coal_ore":               "coal",
	"deepslate_coal_ore":     "coal",
	"iron_ore":               "raw_iron",
	"deepslate_iron_ore":     "raw_iron",
	"copper_ore":             "raw_copper",
	"deepslate_copper_ore":   "raw_copper",
	"gold_ore":               "raw_gold",
	"deepslate_gold_ore":     "raw_gold",
	"diamond_ore":            "diamond",
	"deepslate_diamond_ore":  "diamond",
	"redstone_ore":           "redstone",
	"deepslate_redstone_ore": "redstone",
	"lapis_ore":              "lapis_lazuli",
	"deepslate_lapis_ore":    "lapis_lazuli",
	"emerald_ore":            "emerald",
	"deepslate_emerald_ore":  "emerald",
	"nether_quartz_ore":      "quartz",
	"ancient_debris":         "netherite_scrap",
}

// acceptedItemNames expands the raw target item into every name whose count
// should satisfy the delta check: the item itself, its ore drop, and for
// logs the generic wood group. The wood-group expansion is heuristic and
// can over-match when unrelated wood items sit in inventory.
func acceptedItemNames(raw string) []string {
	raw = strings.TrimPrefix(strings.ToLower(raw), "minecraft:")
	accepted := []string{raw}
	if drop, ok := oreDrops[raw]; ok {
		accepted = append(accepted, drop)
	}
	if strings.HasSuffix(raw, "_log") {
		accepted = append(accepted, "log", "wood")
	}
	return accepted
}

// targetItem pulls the item a step is expected to produce out of its args.
func targetItem(args map[string]any) string {
	for _, key := range []string{"blockType", "block_type", "item", "recipe", "target", "resource"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// declaredDelta returns the expected quantity, defaulting to 1.
func declaredDelta(s *task.Step, args map[string]any) int {
	for _, d := range s.Meta.Produces {
		if d.Quantity > 0 {
			return d.Quantity
		}
	}
	for _, key := range []string{"count", "quantity", "amount"} {
		switch v := args[key].(type) {
		case int:
			if v > 0 {
				return v
			}
		case float64:
			if v > 0 {
				return int(v)
			}
		}
	}
	return 1
}
