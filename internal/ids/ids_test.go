package ids

import "testing"

func TestWorkerId_RoundTrip(t *testing.T) {
	c := NewComponentId()
	w := WorkerId{ComponentId: c, Name: "checkout-worker-1"}

	parsed, err := ParseWorkerId(w.String())
	if err != nil {
		t.Fatalf("ParseWorkerId: %v", err)
	}
	if parsed != w {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, w)
	}
}

func TestParseWorkerId_Malformed(t *testing.T) {
	cases := []string{"", "no-slash", "not-a-uuid/name", "uuid-without-name/"}
	for _, c := range cases {
		if _, err := ParseWorkerId(c); err == nil {
			t.Errorf("ParseWorkerId(%q): expected error, got nil", c)
		}
	}
}

func TestEphemeralWorkerName_Unique(t *testing.T) {
	a := EphemeralWorkerName()
	b := EphemeralWorkerName()
	if a == b {
		t.Fatalf("expected unique ephemeral worker names, got %q twice", a)
	}
}

func TestNewIdempotencyKey_Unique(t *testing.T) {
	seen := make(map[IdempotencyKey]struct{})
	for i := 0; i < 100; i++ {
		k := NewIdempotencyKey()
		if _, dup := seen[k]; dup {
			t.Fatalf("duplicate idempotency key generated: %s", k)
		}
		seen[k] = struct{}{}
	}
}
