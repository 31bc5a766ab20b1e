package executorrouting

import (
	"context"
	"errors"
	"sort"
	"testing"

	"go.uber.org/zap"
)

type scriptedFleetCaller struct {
	results map[string][]string
	failing map[string]bool
}

func (c *scriptedFleetCaller) CallPod(_ context.Context, pod string) ([]string, error) {
	if c.failing[pod] {
		return nil, errors.New("pod unreachable")
	}
	return c.results[pod], nil
}

func TestFleet_BroadcastFlattensResultsAcrossPods(t *testing.T) {
	caller := &scriptedFleetCaller{results: map[string][]string{
		"pod-1": {"worker-a", "worker-b"},
		"pod-2": {"worker-c"},
	}}
	f := NewFleet(DefaultConfig(), caller, zap.NewNop())

	got, err := f.Broadcast(context.Background(), []string{"pod-1", "pod-2"})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	sort.Strings(got)
	want := []string{"worker-a", "worker-b", "worker-c"}
	if len(got) != len(want) {
		t.Fatalf("Broadcast = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Broadcast = %v, want %v", got, want)
		}
	}
}

func TestFleet_SkipsFailingPodsWithoutFailingWholeQuery(t *testing.T) {
	caller := &scriptedFleetCaller{
		results: map[string][]string{"pod-1": {"worker-a"}},
		failing: map[string]bool{"pod-2": true},
	}
	f := NewFleet(DefaultConfig(), caller, zap.NewNop())

	got, err := f.Broadcast(context.Background(), []string{"pod-1", "pod-2"})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(got) != 1 || got[0] != "worker-a" {
		t.Fatalf("Broadcast = %v, want [worker-a]", got)
	}
}
