package transform

import "testing"

func TestKeyMapDeterministicAssignment(t *testing.T) {
	m := NewKeyMap()
	skipped := m.Assign([]any{"P3", "P1", nil, "P2", "P1"})
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}

	// Distinct naturals sorted, numbered from 1.
	want := map[string]int64{"P1": 1, "P2": 2, "P3": 3}
	for nk, id := range want {
		got, ok := m.Lookup(nk)
		if !ok || got != id {
			t.Errorf("Lookup(%s) = %d, %t, want %d", nk, got, ok, id)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}

	// A rerun over the same domain reproduces identical keys.
	m2 := NewKeyMap()
	m2.Assign([]any{"P1", "P2", "P3"})
	for nk, id := range want {
		if got, _ := m2.Lookup(nk); got != id {
			t.Errorf("rerun Lookup(%s) = %d, want %d", nk, got, id)
		}
	}
}

func TestKeyMapPriorMergeContinuesAboveMax(t *testing.T) {
	prior := map[string]int64{"P1": 1, "P5": 9}
	m := NewKeyMapFrom(prior)
	m.Assign([]any{"P1", "P2", "P9"})

	if got, _ := m.Lookup("P1"); got != 1 {
		t.Fatalf("prior key P1 moved to %d", got)
	}
	if got, _ := m.Lookup("P5"); got != 9 {
		t.Fatalf("prior key P5 moved to %d", got)
	}
	// New keys continue from max(prior)+1 in sorted order.
	if got, _ := m.Lookup("P2"); got != 10 {
		t.Fatalf("Lookup(P2) = %d, want 10", got)
	}
	if got, _ := m.Lookup("P9"); got != 11 {
		t.Fatalf("Lookup(P9) = %d, want 11", got)
	}
}

func TestKeyMapLookupCanonicalizesTypes(t *testing.T) {
	m := NewKeyMap()
	m.Assign([]any{int64(42)})
	if got, ok := m.Lookup("42"); !ok || got != 1 {
		t.Fatalf("Lookup(string form) = %d, %t", got, ok)
	}
	if got, ok := m.Lookup(float64(42)); !ok || got != 1 {
		t.Fatalf("Lookup(float form) = %d, %t", got, ok)
	}
}

func TestKeyMapSnapshotDetached(t *testing.T) {
	m := NewKeyMap()
	m.Assign([]any{"A"})
	snap := m.Snapshot()
	snap["A"] = 99
	if got, _ := m.Lookup("A"); got != 1 {
		t.Fatalf("snapshot mutation leaked into map: %d", got)
	}
}
