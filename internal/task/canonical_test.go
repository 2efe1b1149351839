package task

import (
	"strings"
	"testing"
	"time"
)

func TestCanonicalizeKeyOrderStable(t *testing.T) {
	a := map[string]any{"a": 1, "b": 2, "c": map[string]any{"y": 2, "x": 1}}
	b := map[string]any{"c": map[string]any{"x": 1, "y": 2}, "b": 2, "a": 1}

	ca := Canonicalize(a)
	cb := Canonicalize(b)
	if ca != cb {
		t.Errorf("canonical forms differ:\n%s\n%s", ca, cb)
	}
	if ca != `{"a":1,"b":2,"c":{"x":1,"y":2}}` {
		t.Errorf("unexpected canonical form: %s", ca)
	}
}

func TestCanonicalizeArraysPreserveOrder(t *testing.T) {
	got := Canonicalize(map[string]any{"list": []any{3, 1, 2}})
	want := `{"list":[3,1,2]}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalizeBigIntegersBecomeStrings(t *testing.T) {
	got := Canonicalize(map[string]any{"n": uint64(1) << 60})
	if !strings.Contains(got, `"1152921504606846976"`) {
		t.Errorf("large integer not stringified: %s", got)
	}
	got = Canonicalize(map[string]any{"n": int64(1) << 60})
	if !strings.Contains(got, `"1152921504606846976"`) {
		t.Errorf("large signed integer not stringified: %s", got)
	}
	got = Canonicalize(map[string]any{"n": -(int64(1) << 60)})
	if !strings.Contains(got, `"-1152921504606846976"`) {
		t.Errorf("large negative integer not stringified: %s", got)
	}
	// Small values stay bare numbers.
	if got := Canonicalize(map[string]any{"n": int64(-42)}); got != `{"n":-42}` {
		t.Errorf("small signed integer quoted: %s", got)
	}
}

func TestCanonicalizeCircularRefSentinel(t *testing.T) {
	m := map[string]any{}
	m["self"] = m
	got := Canonicalize(m)
	if !strings.Contains(got, "[unserializable]") {
		t.Errorf("circular ref did not collapse to sentinel: %s", got)
	}
}

func TestCanonicalizeTime(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := Canonicalize(map[string]any{"at": ts})
	if !strings.Contains(got, "2026-03-01T12:00:00Z") {
		t.Errorf("time not RFC3339: %s", got)
	}
}

func TestCanonicalizeUnsupportedKinds(t *testing.T) {
	got := Canonicalize(map[string]any{"fn": func() {}})
	if !strings.Contains(got, "[unserializable]") {
		t.Errorf("func did not collapse to sentinel: %s", got)
	}
}
