package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps candle windows as JSON strings with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(k Key) string { return "tradeflow:candles:" + k.String() }

func (s *RedisStore) Get(ctx context.Context, k Key) ([]tradeflow.Bar, bool, error) {
	raw, err := s.client.Get(ctx, s.key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var bars []tradeflow.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, false, err
	}
	return bars, true, nil
}

func (s *RedisStore) Put(ctx context.Context, k Key, bars []tradeflow.Bar) error {
	raw, err := json.Marshal(bars)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(k), raw, s.ttl).Err()
}
