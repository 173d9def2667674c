package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/corwinhq/taskforge/internal/platform/logger"
)

// Bus fans a Message out to every engine replica, so a client connected
// to replica A receives an event produced by a dispatcher running on
// replica B. Grounded on internal/clients/redis/sse_bus.go; the
// connect/ping/subscribe/forward shape is unchanged, only the payload
// type differs (Message instead of sse.SSEMessage).
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	StartForwarder(ctx context.Context, onMsg func(Message)) error
	Close() error
}

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisBus connects to addr and returns a Bus publishing/subscribing
// on the given channel. Returns (nil, nil) if addr is empty: Redis fan-out
// is optional infrastructure, not a hard dependency of the engine — a
// single-replica deployment runs fine on the in-process Hub alone.
func NewRedisBus(addr, channel string, baseLog *logger.Logger) (Bus, error) {
	if addr == "" {
		return nil, nil
	}
	if channel == "" {
		channel = "taskforge_jobs"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:     baseLog.With("component", "NotifierRedisBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(Message)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
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
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("bad redis notifier payload", "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

func (b *redisBus) Close() error {
	return b.rdb.Close()
}
