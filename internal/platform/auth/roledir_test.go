package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockStore struct {
	roles map[string][]string
	calls int
	err   error
}

func (m *mockStore) RolesForUser(_ context.Context, userID string) ([]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.roles[userID], nil
}

func TestRoleDirectory_CachesLookups(t *testing.T) {
	store := &mockStore{roles: map[string][]string{"u1": {"doctor"}}}
	cache := NewMemoryRoleCache(time.Minute)
	dir := NewRoleDirectory(store, cache)

	for i := 0; i < 3; i++ {
		roles, err := dir.Roles(context.Background(), "u1")
		if err != nil {
			t.Fatalf("roles: %v", err)
		}
		if len(roles) != 1 || roles[0] != "doctor" {
			t.Errorf("unexpected roles %v", roles)
		}
	}
	if store.calls != 1 {
		t.Errorf("expected 1 store call, got %d", store.calls)
	}
}

func TestRoleDirectory_Invalidate(t *testing.T) {
	store := &mockStore{roles: map[string][]string{"u1": {"nurse"}}}
	cache := NewMemoryRoleCache(time.Minute)
	dir := NewRoleDirectory(store, cache)

	if _, err := dir.Roles(context.Background(), "u1"); err != nil {
		t.Fatalf("roles: %v", err)
	}

	// Role change: store now returns more, cache must be dropped to see it.
	store.roles["u1"] = []string{"nurse", "doctor"}
	if err := dir.Invalidate(context.Background(), "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	roles, err := dir.Roles(context.Background(), "u1")
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if len(roles) != 2 {
		t.Errorf("expected refreshed roles, got %v", roles)
	}
	if store.calls != 2 {
		t.Errorf("expected 2 store calls, got %d", store.calls)
	}
}

func TestRoleDirectory_StoreErrorPropagates(t *testing.T) {
	store := &mockStore{err: errors.New("db down")}
	dir := NewRoleDirectory(store, NewMemoryRoleCache(time.Minute))

	if _, err := dir.Roles(context.Background(), "u1"); err == nil {
		t.Error("expected store error to propagate on cache miss")
	}
}

func TestMemoryRoleCache_TTL(t *testing.T) {
	cache := NewMemoryRoleCache(time.Minute)
	base := time.Now()
	cache.now = func() time.Time { return base }

	if err := cache.Set(context.Background(), "u1", []string{"cashier"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, ok, _ := cache.Get(context.Background(), "u1"); !ok {
		t.Fatal("expected hit inside TTL")
	}

	cache.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok, _ := cache.Get(context.Background(), "u1"); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestMemoryRoleCache_CopyIsolation(t *testing.T) {
	cache := NewMemoryRoleCache(time.Minute)
	roles := []string{"doctor"}
	_ = cache.Set(context.Background(), "u1", roles)
	roles[0] = "mutated"

	got, ok, _ := cache.Get(context.Background(), "u1")
	if !ok || got[0] != "doctor" {
		t.Errorf("cache must hold its own copy, got %v", got)
	}
	got[0] = "mutated"
	got2, _, _ := cache.Get(context.Background(), "u1")
	if got2[0] != "doctor" {
		t.Error("returned slice must not alias the cached one")
	}
}
