package verify

import (
	"testing"

	"botmind/internal/task"
)

func TestDeriveLeafExplicitMeta(t *testing.T) {
	s := &task.Step{
		Label: "whatever the label says",
		Meta: task.StepMeta{
			Leaf: "dig_block",
			Args: map[string]any{"blockType": "coal_ore"},
		},
	}
	leaf, args := DeriveLeafAndArgs(s)
	if leaf != "dig_block" || args["blockType"] != "coal_ore" {
		t.Errorf("got %s %v", leaf, args)
	}
}

func TestDeriveLeafAnnotatedLabel(t *testing.T) {
	s := &task.Step{Label: "leaf:move_to 10 64 -3"}
	leaf, args := DeriveLeafAndArgs(s)
	if leaf != "move_to" {
		t.Errorf("leaf = %s", leaf)
	}
	if args["target"] != "10 64 -3" {
		t.Errorf("args = %v", args)
	}
}

func TestDeriveLeafLegacyLabel(t *testing.T) {
	s := &task.Step{Label: "Mine block iron_ore"}
	leaf, args := DeriveLeafAndArgs(s)
	if leaf != "dig_block" {
		t.Errorf("leaf = %s", leaf)
	}
	if args["target"] != "iron_ore" {
		t.Errorf("args = %v", args)
	}
}

func TestDeriveLeafSynthetic(t *testing.T) {
	s := &task.Step{Label: "ponder the next move"}
	leaf, _ := DeriveLeafAndArgs(s)
	if leaf != "ponder" {
		t.Errorf("leaf = %s", leaf)
	}
	if classify(leaf) != classUnknown {
		t.Error("synthetic leaf should classify unknown")
	}
}

func TestDeriveLeafEmptyLabel(t *testing.T) {
	leaf, args := DeriveLeafAndArgs(&task.Step{})
	if leaf != "" || args != nil {
		t.Errorf("got %q %v", leaf, args)
	}
}

func TestAcceptedItemNamesOreDrops(t *testing.T) {
	got := acceptedItemNames("minecraft:coal_ore")
	want := map[string]bool{"coal_ore": true, "coal": true}
	if len(got) != 2 {
		t.Fatalf("accepted = %v", got)
	}
	for _, n := range got {
		if !want[n] {
			t.Errorf("unexpected name %q in %v", n, got)
		}
	}
}

func TestAcceptedItemNamesWoodGroup(t *testing.T) {
	got := acceptedItemNames("oak_log")
	if len(got) != 3 || got[0] != "oak_log" || got[1] != "log" || got[2] != "wood" {
		t.Errorf("accepted = %v", got)
	}
}

func TestAcceptedItemNamesPlain(t *testing.T) {
	got := acceptedItemNames("cobblestone")
	if len(got) != 1 || got[0] != "cobblestone" {
		t.Errorf("accepted = %v", got)
	}
}

func TestDeclaredDelta(t *testing.T) {
	s := &task.Step{Meta: task.StepMeta{Produces: []task.ItemDelta{{Item: "coal", Quantity: 3}}}}
	if got := declaredDelta(s, nil); got != 3 {
		t.Errorf("delta = %d, want declared 3", got)
	}
	s = &task.Step{}
	if got := declaredDelta(s, map[string]any{"count": float64(5)}); got != 5 {
		t.Errorf("delta = %d, want 5 from args", got)
	}
	if got := declaredDelta(s, nil); got != 1 {
		t.Errorf("delta = %d, want default 1", got)
	}
}

func TestTargetItem(t *testing.T) {
	if got := targetItem(map[string]any{"blockType": "coal_ore", "item": "ignored"}); got != "coal_ore" {
		t.Errorf("targetItem = %q", got)
	}
	if got := targetItem(nil); got != "" {
		t.Errorf("targetItem = %q", got)
	}
}
