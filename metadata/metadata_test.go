package metadata

import "testing"

func TestNewAndGet(t *testing.T) {
	md := New("x-trace", "abc", "x-trace", "def")
	v, ok := md.Get("x-trace")
	if !ok || v != "def" {
		t.Fatalf("Get = %q, %v, want last-occurrence def", v, ok)
	}
	if len(md.All("x-trace")) != 2 {
		t.Fatalf("All = %v, want 2 entries", md.All("x-trace"))
	}
}

func TestPairsMixedTypes(t *testing.T) {
	md := Pairs("a", "1", "b", []byte("2"))
	if md.GetString("a") != "1" || md.GetString("b") != "2" {
		t.Fatalf("got a=%q b=%q", md.GetString("a"), md.GetString("b"))
	}
}

func TestCloneIndependence(t *testing.T) {
	md := New("k", "v1")
	clone := md.Clone()
	clone.Set("k", "v2")
	if md.GetString("k") != "v1" {
		t.Fatalf("original mutated: %q", md.GetString("k"))
	}
	if clone.GetString("k") != "v2" {
		t.Fatalf("clone not updated: %q", clone.GetString("k"))
	}
}
