// Package results fans finished games out to Redis: a pub/sub message per game
// and a capped list of the most recent results.
package results

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/DoyleJ11/quiz-arena-backend/internal/domain"
	"github.com/DoyleJ11/quiz-arena-backend/internal/event"
)

const MaxRecent = 100

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Publisher struct {
	redis  redis.UniversalClient
	prefix string
}

// NewPublisher subscribes to finished games on the bus when one is given.
func NewPublisher(c Config) *Publisher {
	p := &Publisher{redis: c.Redis, prefix: c.Prefix}
	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameGameFinished, func(ctx context.Context, e event.Event) error {
			return p.Publish(ctx, e.(domain.EventGameFinished).Result)
		})
	}
	return p
}

func (p *Publisher) Publish(ctx context.Context, r domain.GameResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = p.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.ChannelKey(r.Code), data)
		pipe.LPush(ctx, p.listKey(), data)
		pipe.LTrim(ctx, p.listKey(), 0, MaxRecent-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish result %s: %w", r.Code, err)
	}
	return nil
}

// Recent returns up to n results, newest first.
func (p *Publisher) Recent(ctx context.Context, n int) ([]domain.GameResult, error) {
	if n <= 0 || n > MaxRecent {
		n = MaxRecent
	}
	raw, err := p.redis.LRange(ctx, p.listKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}

	out := make([]domain.GameResult, 0, len(raw))
	for _, s := range raw {
		var r domain.GameResult
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *Publisher) ChannelKey(code string) string {
	return fmt.Sprintf("%s:game:%s", p.prefix, code)
}

func (p *Publisher) listKey() string {
	return fmt.Sprintf("%s:results", p.prefix)
}
