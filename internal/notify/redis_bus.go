package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewBus returns a Redis-backed bus when REDIS_ADDR is configured and
// reachable, the no-op bus otherwise. Progress fanout is best-effort
// infrastructure, so an unreachable Redis degrades to no-op with a warning
// instead of failing startup.
func NewBus(baseLog *logger.Logger) Bus {
	serviceLog := baseLog.With("component", "ProgressBus")

	addr := strings.TrimSpace(envutil.String("REDIS_ADDR", ""))
	if addr == "" {
		return NewNoopBus()
	}
	channel := envutil.String("REDIS_CHANNEL", "job-progress")

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		serviceLog.Warn("redis unreachable; progress fanout disabled", "error", err)
		_ = rdb.Close()
		return NewNoopBus()
	}

	return &redisBus{log: serviceLog, rdb: rdb, channel: channel}
}

func (b *redisBus) PublishProgress(ctx context.Context, ev ProgressEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe delivers every progress event published on the channel to onEvent
// until ctx is cancelled. It is not part of the Bus interface, and nothing in
// this repository calls it.
func (b *redisBus) Subscribe(ctx context.Context, onEvent func(ProgressEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("notify: onEvent callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("notify: redis subscribe: %w", err)
	}
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev ProgressEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad progress payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

func (b *redisBus) Close() error { return b.rdb.Close() }
