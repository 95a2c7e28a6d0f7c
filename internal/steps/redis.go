package steps

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// RedisJournal stores each run's steps in one hash, field per step name.
// HSETNX gives first-write-wins across processes.
type RedisJournal struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisJournal creates a journal. A zero ttl keeps step hashes forever.
func NewRedisJournal(client redis.UniversalClient, ttl time.Duration) *RedisJournal {
	return &RedisJournal{client: client, prefix: "tradeflow:steps:", ttl: ttl}
}

func (j *RedisJournal) key(runID string) string { return j.prefix + runID }

func (j *RedisJournal) Lookup(ctx context.Context, runID, name string) (tradeflow.NodeOutput, bool, error) {
	raw, err := j.client.HGet(ctx, j.key(runID), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return tradeflow.NodeOutput{}, false, nil
	}
	if err != nil {
		return tradeflow.NodeOutput{}, false, err
	}
	var out tradeflow.NodeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return tradeflow.NodeOutput{}, false, err
	}
	return out, true, nil
}

func (j *RedisJournal) Record(ctx context.Context, runID, name string, out tradeflow.NodeOutput) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	key := j.key(runID)
	pipe := j.client.TxPipeline()
	pipe.HSetNX(ctx, key, name, raw)
	if j.ttl > 0 {
		pipe.Expire(ctx, key, j.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}
