package peerset

import "testing"

func TestAddIsIdempotent(t *testing.T) {
	s := New()
	if !s.Add("a") {
		t.Fatal("first add should report added")
	}
	if s.Add("a") {
		t.Fatal("second add of the same peer should report not-added")
	}
	if s.Len() != 1 {
		t.Fatalf("want len 1, got %d", s.Len())
	}
}

func TestRemoveAndContains(t *testing.T) {
	s := New()
	s.Add("a")
	if !s.Contains("a") {
		t.Fatal("want a registered")
	}
	if !s.Remove("a") {
		t.Fatal("want remove to report removed")
	}
	if s.Contains("a") {
		t.Fatal("want a no longer registered")
	}
	if s.Remove("a") {
		t.Fatal("second remove should report not-removed")
	}
}

func TestClear(t *testing.T) {
	s := New()
	s.Add("a")
	s.Add("b")
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("want empty set after Clear, got %d", s.Len())
	}
}
