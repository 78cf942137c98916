package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RedisStore implements Store using SETNX for atomic first-claim-wins
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Reserve(ctx context.Context, storeID, experimentID string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}

	// ttl 0 sets the key without expiry
	ok, err := r.client.SetNX(ctx, key(storeID, experimentID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX failed: %w", err)
	}

	return ok, nil
}

func (r *RedisStore) Release(ctx context.Context, storeID, experimentID string) error {
	if err := r.client.Del(ctx, key(storeID, experimentID)).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// PostgresStore implements Store with a unique key and ON CONFLICT.
//
// Schema (see internal/database/migrations):
//
//	CREATE TABLE experiment_reservations (
//	  store_id      TEXT NOT NULL,
//	  experiment_id TEXT NOT NULL,
//	  reserved_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	  expires_at    TIMESTAMPTZ,
//	  PRIMARY KEY (store_id, experiment_id)
//	);
//
// An expired claim is taken over by the conflicting insert; a live one is left
// untouched and zero rows are affected.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore uses a pool owned by the caller
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const reserveSQL = `
INSERT INTO experiment_reservations (store_id, experiment_id, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (store_id, experiment_id) DO UPDATE
SET reserved_at = NOW(), expires_at = EXCLUDED.expires_at
WHERE experiment_reservations.expires_at IS NOT NULL
  AND experiment_reservations.expires_at <= NOW()`

func (p *PostgresStore) Reserve(ctx context.Context, storeID, experimentID string, ttl time.Duration) (bool, error) {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	tag, err := p.pool.Exec(ctx, reserveSQL, storeID, experimentID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("postgres reserve failed: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) Release(ctx context.Context, storeID, experimentID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM experiment_reservations WHERE store_id = $1 AND experiment_id = $2`,
		storeID, experimentID)
	if err != nil {
		return fmt.Errorf("postgres release failed: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller
func (p *PostgresStore) Close() error {
	return nil
}

// CleanupExpired removes expired claims; the app runs it on startup.
//
// Returns:
//   - Number of deleted rows
func (p *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM experiment_reservations WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}

	return tag.RowsAffected(), nil
}
