package store

import (
	"testing"
	"time"
)

func TestKeyspaceSetGetDel(t *testing.T) {
	const (
		key = "greeting"
		val = "hello"
	)
	var (
		now = time.Now()
	)
	ks, err := NewKeyspace()
	if err != nil {
		t.Fatalf("NewKeyspace: %v", err)
	}
	defer ks.Close()

	ks.Lock()
	defer ks.Unlock()

	if err := ks.SetLocked(key, val, nil, now); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}
	got, ok := ks.GetLocked(key, now)
	if !ok || got != val {
		t.Fatalf("GetLocked = (%q, %v), want (%q, true)", got, ok, val)
	}
	if !ks.DelLocked(key, now) {
		t.Fatalf("DelLocked = false, want true")
	}
	if _, ok := ks.GetLocked(key, now); ok {
		t.Fatalf("GetLocked after DelLocked found the key")
	}
}

func TestKeyspaceTTLExpiry(t *testing.T) {
	const key = "session"
	now := time.Now()
	ttl := time.Second

	ks, err := NewKeyspace()
	if err != nil {
		t.Fatalf("NewKeyspace: %v", err)
	}
	defer ks.Close()

	ks.Lock()
	defer ks.Unlock()

	if err := ks.SetLocked(key, "token", &ttl, now); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}
	if _, ok := ks.GetLocked(key, now); !ok {
		t.Fatalf("GetLocked before deadline: expected present")
	}
	past := now.Add(2 * time.Second)
	if _, ok := ks.GetLocked(key, past); ok {
		t.Fatalf("GetLocked after deadline: expected expired")
	}
}

func TestKeyspaceIncrDecr(t *testing.T) {
	const key = "counter"
	now := time.Now()

	ks, err := NewKeyspace()
	if err != nil {
		t.Fatalf("NewKeyspace: %v", err)
	}
	defer ks.Close()

	ks.Lock()
	defer ks.Unlock()

	n, err := ks.IncrLocked(key, 1, now)
	if err != nil {
		t.Fatalf("IncrLocked on missing key: %v", err)
	}
	if n != 0 {
		t.Fatalf("IncrLocked on missing key = %d, want 0 (no creation)", n)
	}
	if _, ok := ks.GetLocked(key, now); ok {
		t.Fatalf("IncrLocked on a missing key must not create it")
	}

	if err := ks.SetLocked(key, "10", nil, now); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}
	n, err = ks.IncrLocked(key, 1, now)
	if err != nil || n != 11 {
		t.Fatalf("IncrLocked = (%d, %v), want (11, nil)", n, err)
	}
	n, err = ks.IncrLocked(key, -11, now)
	if err != nil || n != 0 {
		t.Fatalf("IncrLocked = (%d, %v), want (0, nil)", n, err)
	}

	if err := ks.SetLocked(key, "not-a-number", nil, now); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}
	if _, err := ks.IncrLocked(key, 1, now); err != ErrNotInteger {
		t.Fatalf("IncrLocked on non-integer value: err = %v, want ErrNotInteger", err)
	}
}

func TestKeyspaceListPushPopRange(t *testing.T) {
	const key = "queue"
	now := time.Now()

	ks, err := NewKeyspace()
	if err != nil {
		t.Fatalf("NewKeyspace: %v", err)
	}
	defer ks.Close()

	ks.Lock()
	defer ks.Unlock()

	if err := ks.ListMutateLocked(key, []string{"b", "c"}, false, now); err != nil {
		t.Fatalf("RPUSH: %v", err)
	}
	if err := ks.ListMutateLocked(key, []string{"a"}, true, now); err != nil {
		t.Fatalf("LPUSH: %v", err)
	}

	got := ks.ListRangeLocked(key, 0, -1, now)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("LRANGE = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LRANGE[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	v, ok := ks.ListPopLocked(key, true, now)
	if !ok || v != "a" {
		t.Fatalf("LPOP = (%q, %v), want (\"a\", true)", v, ok)
	}
	v, ok = ks.ListPopLocked(key, false, now)
	if !ok || v != "c" {
		t.Fatalf("RPOP = (%q, %v), want (\"c\", true)", v, ok)
	}
}

func TestKeyspaceExpirePassAndExistenceFilter(t *testing.T) {
	now := time.Now()
	ttl := time.Millisecond

	ks, err := NewKeyspace()
	if err != nil {
		t.Fatalf("NewKeyspace: %v", err)
	}
	defer ks.Close()

	ks.Lock()
	if err := ks.SetLocked("a", "1", &ttl, now); err != nil {
		t.Fatalf("SetLocked a: %v", err)
	}
	if err := ks.SetLocked("b", "2", nil, now); err != nil {
		t.Fatalf("SetLocked b: %v", err)
	}
	removed := ks.ExpirePassLocked(now.Add(time.Second))
	ks.Unlock()

	if removed != 1 {
		t.Fatalf("ExpirePassLocked removed %d keys, want 1", removed)
	}

	ks.Lock()
	ks.RebuildExistenceLocked()
	keys := ks.KeysLocked()
	_, aFound := ks.GetLocked("a", now)
	bVal, bFound := ks.GetLocked("b", now)
	ks.Unlock()

	if len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("KeysLocked after expiry = %v, want [b]", keys)
	}
	if aFound {
		t.Fatalf("GetLocked(a) after expiry and filter rebuild found the key")
	}
	if !bFound || bVal != "2" {
		t.Fatalf("GetLocked(b) after filter rebuild = (%q, %v), want (\"2\", true)", bVal, bFound)
	}
}
