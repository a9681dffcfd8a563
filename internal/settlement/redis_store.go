package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// minRetention keeps a spent marker alive even when retainUntil is already
// in the past (clock skew), so a replay inside the window still collides.
const minRetention = time.Hour

// RedisSpendStore keeps the spend ledger in Redis. MarkSpent is SET NX with
// a TTL that outlives the authorization deadline.
type RedisSpendStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisSpendStore creates a Redis-backed spend ledger.
func NewRedisSpendStore(client redis.UniversalClient) *RedisSpendStore {
	return &RedisSpendStore{client: client, prefix: "swapgate:spent:", now: time.Now}
}

func (s *RedisSpendStore) key(nonce string) string {
	return s.prefix + strings.ToLower(nonce)
}

func (s *RedisSpendStore) MarkSpent(ctx context.Context, nonce string, retainUntil time.Time) (bool, error) {
	ttl := max(retainUntil.Sub(s.now()), minRetention)
	ok, err := s.client.SetNX(ctx, s.key(nonce), s.now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark nonce spent: %w", err)
	}
	return ok, nil
}

func (s *RedisSpendStore) Release(ctx context.Context, nonce string) error {
	if err := s.client.Del(ctx, s.key(nonce)).Err(); err != nil {
		return fmt.Errorf("failed to release nonce: %w", err)
	}
	return nil
}

func (s *RedisSpendStore) IsSpent(ctx context.Context, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check nonce: %w", err)
	}
	return n == 1, nil
}

var _ SpendStore = (*RedisSpendStore)(nil)
