package ivgen

import (
	"bytes"
	"errors"
	"testing"
)

func TestNextProducesExpectedBytes(t *testing.T) {
	g := New(FixedFieldReceiver)

	iv0, err := g.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	want0 := []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(iv0, want0) {
		t.Fatalf("first IV = %x, want %x", iv0, want0)
	}

	iv1, err := g.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	want1 := []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 1}
	if !bytes.Equal(iv1, want1) {
		t.Fatalf("second IV = %x, want %x", iv1, want1)
	}
}

func TestNoTwoIVsRepeat(t *testing.T) {
	g := New(FixedFieldInitiator)
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		iv, err := g.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		key := string(iv)
		if seen[key] {
			t.Fatalf("IV repeated at iteration %d: %x", i, iv)
		}
		seen[key] = true
	}
}

func TestDisjointFixedFields(t *testing.T) {
	a := New(FixedFieldInitiator)
	b := New(FixedFieldReceiver)

	ivA, _ := a.Next()
	ivB, _ := b.Next()
	if bytes.Equal(ivA, ivB) {
		t.Fatal("initiator and receiver generators produced the same IV for counter 0")
	}
}

func TestExhaustionWithReducedBound(t *testing.T) {
	g := NewWithBound(FixedFieldInitiator, 5)

	for i := 0; i < 5; i++ {
		if _, err := g.Next(); err != nil {
			t.Fatalf("Next() call %d: unexpected error %v", i, err)
		}
	}

	if _, err := g.Next(); !errors.Is(err, Exhausted) {
		t.Fatalf("6th Next() error = %v, want Exhausted", err)
	}
}

func TestCounterReflectsUsage(t *testing.T) {
	g := New(FixedFieldInitiator)
	if g.Counter() != 0 {
		t.Fatalf("initial counter = %d, want 0", g.Counter())
	}
	g.Next()
	g.Next()
	if g.Counter() != 2 {
		t.Fatalf("counter after two calls = %d, want 2", g.Counter())
	}
}
