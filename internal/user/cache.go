package user

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redmonkez12/go-user-service/internal/logging"
)

// versionTTL bounds how long a per-user version counter outlives its last
// write. It only has to exceed the duration of a single refill.
const versionTTL = 24 * time.Hour

var errStaleRefill = errors.New("user changed since it was read")

// CachedRepository serves FindByID from Redis and delegates everything else
// to the wrapped store. Username and email lookups always hit the store, which
// remains the only authority on uniqueness.
//
// Every Update and Delete bumps a per-user version key. A refill only lands if
// the version it observed before reading the store is still current, so a
// write that races a cache miss can never be overwritten by the older row.
type CachedRepository struct {
	store  Store
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedRepository(store Store, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedRepository {
	return &CachedRepository{
		store:  store,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// getUserKey generates the Redis key for a cached user
func getUserKey(id int64) string {
	return fmt.Sprintf("user:%d", id)
}

func getVersionKey(id int64) string {
	return fmt.Sprintf("user:%d:version", id)
}

func (c *CachedRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return c.store.FindByUsername(ctx, username)
}

func (c *CachedRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return c.store.FindByEmail(ctx, email)
}

func (c *CachedRepository) Create(ctx context.Context, u *User) (*User, error) {
	return c.store.Create(ctx, u)
}

// FindByID reads through the cache. Cache failures are logged and the store
// answers instead.
func (c *CachedRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	key := getUserKey(id)

	data, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Warn("user cache read failed", "user_id", id, "error", err)
	} else if len(data) > 0 {
		u, decodeErr := decodeCachedUser(data)
		if decodeErr == nil {
			return u, nil
		}
		c.logger.Warn("discarding malformed cached user", "user_id", id, "error", decodeErr)
	}

	// Snapshot the version before the store read. Without it the refill
	// cannot be checked, so it is skipped.
	version, versionErr := c.client.Get(ctx, getVersionKey(id)).Result()
	if versionErr != nil && !errors.Is(versionErr, redis.Nil) {
		c.logger.Warn("user cache version read failed", "user_id", id, "error", versionErr)
	}

	u, err := c.store.FindByID(ctx, id)
	if err != nil || u == nil {
		return u, err
	}

	if versionErr == nil || errors.Is(versionErr, redis.Nil) {
		c.refill(ctx, u, version)
	}
	return u, nil
}

// FindByIDForUpdate bypasses the cache.
func (c *CachedRepository) FindByIDForUpdate(ctx context.Context, id int64) (*User, error) {
	return c.store.FindByIDForUpdate(ctx, id)
}

// refill caches u unless the user's version moved away from version.
func (c *CachedRepository) refill(ctx context.Context, u *User, version string) {
	key := getUserKey(u.ID)
	versionKey := getVersionKey(u.ID)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleRefill
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, encodeCachedUser(u))
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, versionKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleRefill), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("skipping stale user cache refill", "user_id", u.ID)
	default:
		c.logger.Warn("user cache write failed", "user_id", u.ID, "error", err)
	}
}

// Update persists through the store, then invalidates the cached copy.
func (c *CachedRepository) Update(ctx context.Context, u *User) error {
	if err := c.store.Update(ctx, u); err != nil {
		return err
	}
	c.invalidate(ctx, u.ID)
	return nil
}

// Delete removes through the store, then invalidates the cached copy.
func (c *CachedRepository) Delete(ctx context.Context, id int64) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *CachedRepository) invalidate(ctx context.Context, id int64) {
	versionKey := getVersionKey(id)

	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, versionKey)
	pipe.Expire(ctx, versionKey, versionTTL)
	pipe.Del(ctx, getUserKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("user cache invalidation failed", "user_id", id, "error", err)
	}
}

func encodeCachedUser(u *User) map[string]any {
	fields := map[string]any{
		"id":            u.ID,
		"username":      u.Username,
		"email":         u.Email,
		"password_hash": u.PasswordHash,
		"is_active":     strconv.FormatBool(u.IsActive),
		"created_at":    u.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    u.UpdatedAt.Format(time.RFC3339Nano),
	}
	// Unset names are left out so they decode back to nil.
	if u.FirstName != nil {
		fields["first_name"] = *u.FirstName
	}
	if u.LastName != nil {
		fields["last_name"] = *u.LastName
	}
	return fields
}

func decodeCachedUser(data map[string]string) (*User, error) {
	id, err := strconv.ParseInt(data["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	isActive, err := strconv.ParseBool(data["is_active"])
	if err != nil {
		return nil, fmt.Errorf("parse is_active: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	u := &User{
		ID:           id,
		Username:     data["username"],
		Email:        data["email"],
		PasswordHash: data["password_hash"],
		IsActive:     isActive,
		CreatedAt:    createdAt.UTC(),
		UpdatedAt:    updatedAt.UTC(),
	}
	if v, ok := data["first_name"]; ok {
		u.FirstName = &v
	}
	if v, ok := data["last_name"]; ok {
		u.LastName = &v
	}
	return u, nil
}
