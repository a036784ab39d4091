package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/matchpoint-server/internal/config"
	"github.com/matchpoint-server/internal/domain"
	"github.com/redis/go-redis/v9"
)

// codeAlphabet excludes characters that read ambiguously on a shared screen
// (0/O, 1/I, L)
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Registry maps human-shareable room codes to match IDs. Redis SETNX makes
// allocation collision-safe across processes; bindings survive a match
// finishing until the sweeper releases them, so late scoreboard fetches
// still resolve.
type Registry struct {
	client      *redis.Client
	logger      *slog.Logger
	codeLength  int
	maxAttempts int
}

// New creates a room-code registry backed by Redis
func New(redisCfg *config.RedisConfig, regCfg *config.RegistryConfig, logger *slog.Logger) (*Registry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         redisCfg.Addr,
		Password:     redisCfg.Password,
		DB:           redisCfg.DB,
		PoolSize:     redisCfg.PoolSize,
		MinIdleConns: redisCfg.MinIdleConns,
		DialTimeout:  redisCfg.DialTimeout,
		ReadTimeout:  redisCfg.ReadTimeout,
		WriteTimeout: redisCfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Registry{
		client:      client,
		logger:      logger,
		codeLength:  regCfg.CodeLength,
		maxAttempts: regCfg.MaxAttempts,
	}, nil
}

// Close closes the Redis connection
func (r *Registry) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client
func (r *Registry) Client() *redis.Client {
	return r.client
}

// codeKey returns the Redis key binding a room code to its match
func (r *Registry) codeKey(code string) string {
	return fmt.Sprintf("room:%s:match", code)
}

// Allocate generates a fresh room code and binds it to the match. Retries on
// collision up to the configured ceiling, then fails with ErrCodesExhausted
// rather than looping forever.
func (r *Registry) Allocate(ctx context.Context, matchID string) (string, error) {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		code, err := randomCode(r.codeLength)
		if err != nil {
			return "", fmt.Errorf("generating room code: %w", err)
		}

		ok, err := r.client.SetNX(ctx, r.codeKey(code), matchID, 0).Result()
		if err != nil {
			return "", fmt.Errorf("reserving room code: %w", err)
		}
		if ok {
			return code, nil
		}
		r.logger.Debug("room code collision, retrying", "code", code, "attempt", attempt+1)
	}
	return "", domain.ErrCodesExhausted
}

// Resolve returns the match ID bound to a room code. Lookup is
// case-insensitive: codes are normalized to uppercase at this boundary.
func (r *Registry) Resolve(ctx context.Context, roomCode string) (string, error) {
	code := Normalize(roomCode)
	matchID, err := r.client.Get(ctx, r.codeKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrRoomCodeNotFound
		}
		return "", fmt.Errorf("resolving room code: %w", err)
	}
	return matchID, nil
}

// Bind force-sets a code→match binding. Used when rebuilding the registry
// from the database after a Redis loss.
func (r *Registry) Bind(ctx context.Context, roomCode, matchID string) error {
	err := r.client.Set(ctx, r.codeKey(Normalize(roomCode)), matchID, 0).Err()
	if err != nil {
		return fmt.Errorf("binding room code: %w", err)
	}
	return nil
}

// Release frees a room code for reuse, but only while it still belongs to
// the given match. A code already reissued to a newer match is left alone.
func (r *Registry) Release(ctx context.Context, roomCode, matchID string) error {
	key := r.codeKey(Normalize(roomCode))
	current, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("checking room code owner: %w", err)
	}
	if current != matchID {
		return nil
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("releasing room code: %w", err)
	}
	return nil
}

// Normalize uppercases and trims a room code
func Normalize(roomCode string) string {
	return strings.ToUpper(strings.TrimSpace(roomCode))
}

// randomCode produces an n-character code from the registry alphabet
func randomCode(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range out {
		x, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = codeAlphabet[x.Int64()]
	}
	return string(out), nil
}
