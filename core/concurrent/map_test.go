package concurrent

import "testing"

func TestMapInsertRemove(t *testing.T) {
	m := New[string, int](nil)

	if _, had := m.Insert("a", 1); had {
		t.Fatalf("expected no prior value")
	}
	old, had := m.Insert("a", 2)
	if !had || old != 1 {
		t.Fatalf("expected prior value 1, got %v had=%v", old, had)
	}

	v, ok := m.Get("a")
	if !ok || v != 2 {
		t.Fatalf("expected 2, got %v ok=%v", v, ok)
	}

	removed, had := m.Remove("a")
	if !had || removed != 2 {
		t.Fatalf("expected removed 2, got %v had=%v", removed, had)
	}
	if _, ok := m.Get("a"); ok {
		t.Fatalf("expected key gone after remove")
	}
}

func TestMapFindRemove(t *testing.T) {
	m := New[int, string](nil)
	m.Insert(1, "one")
	m.Insert(2, "two")
	m.Insert(3, "three")

	k, v, ok := m.FindRemove(func(k int, v string) bool { return v == "two" })
	if !ok || k != 2 || v != "two" {
		t.Fatalf("expected to find (2, two), got (%v, %v) ok=%v", k, v, ok)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 entries left, got %d", m.Len())
	}

	_, _, ok = m.FindRemove(func(int, string) bool { return false })
	if ok {
		t.Fatalf("expected no match")
	}
}

func TestMapFindRemoveRecoversPanic(t *testing.T) {
	m := New[int, int](nil)
	m.Insert(1, 1)

	_, _, ok := m.FindRemove(func(int, int) bool { panic("boom") })
	if ok {
		t.Fatalf("expected FindRemove to report no-op after panic")
	}
	if m.Len() != 1 {
		t.Fatalf("expected map untouched after recovered panic, got len=%d", m.Len())
	}
}

func TestMapRetainWith(t *testing.T) {
	m := New[int, int](nil)
	for i := 0; i < 5; i++ {
		m.Insert(i, i)
	}

	removed := m.RetainWith(func(k, v int) bool { return v%2 == 0 })
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 remaining, got %d", m.Len())
	}
}
