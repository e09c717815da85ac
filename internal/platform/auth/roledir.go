package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RoleStore loads a user's roles from the source of truth.
type RoleStore interface {
	RolesForUser(ctx context.Context, userID string) ([]string, error)
}

// RoleCache is an explicit cache with a TTL and an explicit invalidation
// call. It is passed by reference to its consumers; there is no package-level
// singleton, so guards never depend on hidden global state.
type RoleCache interface {
	Get(ctx context.Context, userID string) ([]string, bool, error)
	Set(ctx context.Context, userID string, roles []string) error
	Invalidate(ctx context.Context, userID string) error
}

// RoleDirectory answers "what roles does this user hold" from the cache,
// falling back to the store on a miss.
type RoleDirectory struct {
	store RoleStore
	cache RoleCache
}

func NewRoleDirectory(store RoleStore, cache RoleCache) *RoleDirectory {
	return &RoleDirectory{store: store, cache: cache}
}

func (d *RoleDirectory) Roles(ctx context.Context, userID string) ([]string, error) {
	roles, ok, err := d.cache.Get(ctx, userID)
	if err == nil && ok {
		return roles, nil
	}
	// Cache errors degrade to a store read, never to a denial.
	roles, err = d.store.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	_ = d.cache.Set(ctx, userID, roles)
	return roles, nil
}

// Invalidate drops the cached roles for a user, forcing the next lookup to
// hit the store. Called when an admin changes a user's role assignments.
func (d *RoleDirectory) Invalidate(ctx context.Context, userID string) error {
	return d.cache.Invalidate(ctx, userID)
}

// RoleLookupMiddleware resolves roles from the directory for tokens that did
// not carry any. Requests that already have roles on the context pass through
// untouched.
func RoleLookupMiddleware(dir *RoleDirectory) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if len(RolesFromContext(ctx)) > 0 {
				return next(c)
			}
			userID := UserIDFromContext(ctx)
			if userID == "" {
				return next(c)
			}
			roles, err := dir.Roles(ctx, userID)
			if err != nil || len(roles) == 0 {
				return next(c)
			}
			ctx = context.WithValue(ctx, UserRolesKey, roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// -- Redis cache --

type redisRoleCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRoleCache(client *redis.Client, ttl time.Duration) RoleCache {
	return &redisRoleCache{client: client, ttl: ttl}
}

func roleKey(userID string) string { return "roles:" + userID }

func (c *redisRoleCache) Get(ctx context.Context, userID string) ([]string, bool, error) {
	val, err := c.client.Get(ctx, roleKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var roles []string
	if err := json.Unmarshal([]byte(val), &roles); err != nil {
		return nil, false, fmt.Errorf("decoding cached roles: %w", err)
	}
	return roles, true, nil
}

func (c *redisRoleCache) Set(ctx context.Context, userID string, roles []string) error {
	data, err := json.Marshal(roles)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, roleKey(userID), data, c.ttl).Err()
}

func (c *redisRoleCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, roleKey(userID)).Err()
}

// -- In-memory cache --

type memoryEntry struct {
	roles   []string
	expires time.Time
}

// MemoryRoleCache is the in-process fallback used in development and tests.
type MemoryRoleCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryRoleCache(ttl time.Duration) *MemoryRoleCache {
	return &MemoryRoleCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryRoleCache) Get(_ context.Context, userID string) ([]string, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expires) {
		return nil, false, nil
	}
	out := make([]string, len(e.roles))
	copy(out, e.roles)
	return out, true, nil
}

func (c *MemoryRoleCache) Set(_ context.Context, userID string, roles []string) error {
	cp := make([]string, len(roles))
	copy(cp, roles)
	c.mu.Lock()
	c.entries[userID] = memoryEntry{roles: cp, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryRoleCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
	return nil
}

// -- Postgres store --

type pgRoleStore struct {
	pool *pgxpool.Pool
}

func NewPGRoleStore(pool *pgxpool.Pool) RoleStore {
	return &pgRoleStore{pool: pool}
}

func (s *pgRoleStore) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role FROM staff_role WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}
