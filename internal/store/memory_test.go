package store

import (
	"context"
	"errors"
	"sort"
	"testing"
)

func TestMemory_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, KeyActiveProvider); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on empty store = %v, want ErrNotFound", err)
	}

	if err := m.Set(ctx, KeyActiveProvider, []byte(`"gemini"`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, KeyActiveProvider)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `"gemini"` {
		t.Errorf("Get = %s, want %q", got, `"gemini"`)
	}

	if err := m.Delete(ctx, KeyActiveProvider); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, KeyActiveProvider); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}

	// Deleting a missing key is not an error.
	if err := m.Delete(ctx, "nope"); err != nil {
		t.Errorf("Delete missing key = %v, want nil", err)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Set(ctx, "k", []byte("abc"))

	got, _ := m.Get(ctx, "k")
	got[0] = 'X'

	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated through returned slice: %s", again)
	}
}

func TestMemory_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Set(ctx, SessionKeyPrefix+"a", []byte("1"))
	m.Set(ctx, SessionKeyPrefix+"b", []byte("2"))
	m.Set(ctx, KeyDarkMode, []byte("true"))

	keys, err := m.Keys(ctx, SessionKeyPrefix)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "session_a" || keys[1] != "session_b" {
		t.Errorf("Keys = %v, want [session_a session_b]", keys)
	}

	all, _ := m.Keys(ctx, "")
	if len(all) != 3 {
		t.Errorf("Keys(\"\") returned %d keys, want 3", len(all))
	}
}

func TestMemory_ZeroValueUsable(t *testing.T) {
	ctx := context.Background()
	var m Memory
	if err := m.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set on zero value: %v", err)
	}
	if got, err := m.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Errorf("Get = %s, %v", got, err)
	}
}
