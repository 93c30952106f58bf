package storage

import (
	"path/filepath"
	"testing"
)

func TestSetGetDelete(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	if _, ok := s.Get("missing"); ok {
		t.Fatalf("unexpected value for missing key")
	}

	s.Set("k", "v1")
	if v, ok := s.Get("k"); !ok || v != "v1" {
		t.Fatalf("got %q/%v, want v1", v, ok)
	}

	s.Set("k", "v2")
	if v, _ := s.Get("k"); v != "v2" {
		t.Fatalf("upsert failed: %q", v)
	}

	s.Delete("k")
	if _, ok := s.Get("k"); ok {
		t.Fatalf("key survived delete")
	}
}

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s := New(path)
	s.Set("sessions", `[{"id":"sesh-1"}]`)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2 := New(path)
	defer s2.Close()
	if v, ok := s2.Get("sessions"); !ok || v != `[{"id":"sesh-1"}]` {
		t.Fatalf("value lost across reopen: %q/%v", v, ok)
	}
}

func TestEmptyPathDegradesToMemory(t *testing.T) {
	s := New("")
	defer s.Close()

	s.Set("k", "v")
	if v, ok := s.Get("k"); !ok || v != "v" {
		t.Fatalf("in-memory fallback broken: %q/%v", v, ok)
	}
}
