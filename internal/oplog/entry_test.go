package oplog

import (
	"testing"

	"github.com/golemcloud/golem/internal/ids"
)

func TestRegion_Contains(t *testing.T) {
	r := Region{Start: 5, End: 10}
	cases := map[ids.OplogIndex]bool{4: false, 5: true, 7: true, 10: true, 11: false}
	for idx, want := range cases {
		if got := r.Contains(idx); got != want {
			t.Errorf("Contains(%d) = %v, want %v", idx, got, want)
		}
	}
}

func TestNewJump_PopulatesRegion(t *testing.T) {
	e := NewJump(Region{Start: 1, End: 3})
	if e.Kind != KindJump {
		t.Fatalf("expected KindJump, got %v", e.Kind)
	}
	if e.Region == nil || e.Region.Start != 1 || e.Region.End != 3 {
		t.Fatalf("unexpected region: %+v", e.Region)
	}
}

func TestNewChangeRetryPolicy_PopulatesPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Multiplier: 2.0}
	e := NewChangeRetryPolicy(p)
	if e.RetryPolicy == nil || e.RetryPolicy.MaxAttempts != 3 {
		t.Fatalf("expected retry policy to be set, got %+v", e.RetryPolicy)
	}
}
