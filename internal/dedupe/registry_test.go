package dedupe

import (
	"fmt"
	"testing"
	"time"
)

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		name string
		fc   FailureContext
		want Classification
	}{
		{
			"tool diagnostics win over blocked reason",
			FailureContext{ToolReasonCode: "no_mcdata", BlockedReason: "blocked_invalid_ir_bundle"},
			ClassTransient,
		},
		{
			"unknown tool code falls through to blocked reason",
			FailureContext{ToolReasonCode: "mystery_code", BlockedReason: "blocked_invalid_ir_bundle"},
			ClassDurable,
		},
		{
			"blocked reason wins over no-steps reason",
			FailureContext{BlockedReason: "max_retries_exceeded", NoStepsReason: "solver-error"},
			ClassNonsensical,
		},
		{
			"no-steps reason alone",
			FailureContext{NoStepsReason: "solver-unsolved"},
			ClassTransient,
		},
		{
			"empty context defaults durable",
			FailureContext{},
			ClassDurable,
		},
		{
			"unknown everything defaults durable",
			FailureContext{ToolReasonCode: "x", BlockedReason: "y", NoStepsReason: "z"},
			ClassDurable,
		},
	}
	for _, c := range cases {
		if got := Classify(c.fc); got != c.want {
			t.Errorf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestClassifyParametricPrefixes(t *testing.T) {
	cases := []struct {
		reason string
		want   Classification
	}{
		{"deterministic-failure:postcondition_not_met", ClassDurable},
		{"deterministic-failure:anything_else", ClassDurable},
		{"budget-exhausted:steps", ClassNonsensical},
		{"budget-exhausted:time", ClassNonsensical},
		{"blocked_biome_context_unavailable", ClassTransient},
		// blocked_ prefix without the _context_unavailable suffix is not the
		// parametric family; it falls through to the default.
		{"blocked_some_new_thing", ClassDurable},
	}
	for _, c := range cases {
		if got := Classify(FailureContext{BlockedReason: c.reason}); got != c.want {
			t.Errorf("%q: got %s, want %s", c.reason, got, c.want)
		}
	}
}

func TestVerifyCoverage(t *testing.T) {
	if uncovered := VerifyCoverage(); len(uncovered) != 0 {
		t.Errorf("uncovered blocked reasons: %v", uncovered)
	}
}

func TestTTLTiers(t *testing.T) {
	if ClassTransient.TTL() != 5*time.Second {
		t.Errorf("transient ttl = %s", ClassTransient.TTL())
	}
	if ClassDurable.TTL() != 30*time.Second {
		t.Errorf("durable ttl = %s", ClassDurable.TTL())
	}
	if ClassNonsensical.TTL() != 120*time.Second {
		t.Errorf("nonsensical ttl = %s", ClassNonsensical.TTL())
	}
}

func TestCooldownExpiry(t *testing.T) {
	r := NewRegistry(0)
	now := time.Unix(1000, 0)
	r.SetClock(func() time.Time { return now })

	class := r.RegisterFailure("craft:pickaxe", FailureContext{NoStepsReason: "solver-unsolved"})
	if class != ClassTransient {
		t.Fatalf("classification = %s, want transient", class)
	}

	if _, ok := r.InCooldown("craft:pickaxe"); !ok {
		t.Error("expected cooldown immediately after registration")
	}

	// One nanosecond before expiry is still cooling down.
	now = time.Unix(1000, 0).Add(5*time.Second - time.Nanosecond)
	if _, ok := r.InCooldown("craft:pickaxe"); !ok {
		t.Error("expected cooldown just before ttl boundary")
	}

	// At exactly the expiry instant the entry is pruned.
	now = time.Unix(1000, 0).Add(5 * time.Second)
	if _, ok := r.InCooldown("craft:pickaxe"); ok {
		t.Error("cooldown should have expired at ttl boundary")
	}
	// Pruned, not just hidden.
	if got := r.Snapshot().Size; got != 0 {
		t.Errorf("registry size = %d after expiry, want 0", got)
	}
}

func TestCooldownHitsCounted(t *testing.T) {
	r := NewRegistry(0)
	now := time.Unix(2000, 0)
	r.SetClock(func() time.Time { return now })

	r.RegisterFailure("build:shelter", FailureContext{BlockedReason: "max_retries_exceeded"})
	for i := 0; i < 3; i++ {
		if _, ok := r.InCooldown("build:shelter"); !ok {
			t.Fatal("expected cooldown")
		}
	}
	m := r.Snapshot()
	if m.HitsByClassification[ClassNonsensical] != 3 {
		t.Errorf("hits = %d, want 3", m.HitsByClassification[ClassNonsensical])
	}
}

func TestSeenDigestLRU(t *testing.T) {
	r := NewRegistry(3)

	if r.SeenDigest("2:aaa") {
		t.Error("first sighting should not be seen")
	}
	if !r.SeenDigest("2:aaa") {
		t.Error("second sighting should be seen")
	}

	r.SeenDigest("2:bbb")
	r.SeenDigest("2:ccc")
	// Refresh aaa so bbb becomes oldest, then push one more to evict it.
	r.SeenDigest("2:aaa")
	r.SeenDigest("2:ddd")

	if r.SeenDigest("2:bbb") {
		t.Error("bbb should have been evicted")
	}
	if !r.SeenDigest("2:aaa") {
		t.Error("aaa was refreshed and should survive")
	}
}

func TestSeenDigestEmptyKey(t *testing.T) {
	r := NewRegistry(0)
	if r.SeenDigest("") {
		t.Error("empty key is never seen")
	}
	if r.SeenDigest("") {
		t.Error("empty key is never recorded")
	}
}

func TestRegistryIndependentCategories(t *testing.T) {
	r := NewRegistry(0)
	now := time.Unix(0, 0)
	r.SetClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		r.RegisterFailure(fmt.Sprintf("mine:ore-%d", i), FailureContext{})
	}
	if got := r.Snapshot().Size; got != 4 {
		t.Errorf("size = %d, want 4", got)
	}
	if _, ok := r.InCooldown("mine:ore-9"); ok {
		t.Error("unregistered category should not be cooling down")
	}
}
