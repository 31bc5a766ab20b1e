package resourcelimit

import (
	"testing"
	"time"
)

func TestConsume_RespectsCapacity(t *testing.T) {
	b := New(10, time.Hour, CostModel{KindFuel: 1})
	defer b.Close()

	consumed, ok := b.Consume(KindFuel, 7)
	if !ok {
		t.Fatal("expected first consume of 7 to succeed")
	}
	if consumed != 7 {
		t.Fatalf("expected consumed = 7, got %d", consumed)
	}
	if _, ok := b.Consume(KindFuel, 5); ok {
		t.Fatal("expected second consume of 5 to fail (only 3 remain)")
	}
	if b.Remaining() != 3 {
		t.Fatalf("expected 3 remaining, got %d", b.Remaining())
	}
}

func TestConsume_ScalesByUnits(t *testing.T) {
	b := New(100, time.Hour, CostModel{KindMemoryGrowth: 2})
	defer b.Close()

	consumed, ok := b.Consume(KindMemoryGrowth, 10)
	if !ok {
		t.Fatal("expected consume to succeed")
	}
	if consumed != 20 {
		t.Fatalf("expected consumed = 20 (10 units at cost 2), got %d", consumed)
	}
	if b.Remaining() != 80 {
		t.Fatalf("expected 80 remaining after 10 units at cost 2, got %d", b.Remaining())
	}
}

func TestConsume_RejectionReturnsZero(t *testing.T) {
	b := New(10, time.Hour, CostModel{KindFuel: 1})
	defer b.Close()

	consumed, ok := b.Consume(KindFuel, 20)
	if ok {
		t.Fatal("expected consume of 20 against capacity 10 to fail")
	}
	if consumed != 0 {
		t.Fatalf("expected consumed = 0 on rejection, got %d", consumed)
	}
}

func TestRefill_RestoresCapacity(t *testing.T) {
	b := New(5, 20*time.Millisecond, CostModel{KindInvocation: 1})
	defer b.Close()

	if _, ok := b.Consume(KindInvocation, 5); !ok {
		t.Fatal("expected full consume to succeed")
	}
	if _, ok := b.Consume(KindInvocation, 1); ok {
		t.Fatal("expected consume to fail once exhausted")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := b.Consume(KindInvocation, 1); !ok {
		t.Fatal("expected consume to succeed after refill")
	}
}
