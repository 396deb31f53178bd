package broadcast

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gogotex/collabdocs/pkg/logger"
	"github.com/gogotex/collabdocs/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// publishTimeout bounds a single PUBLISH round trip.
const publishTimeout = 2 * time.Second

// RedisRelay shares one channel space between server processes. Publish
// sends the notification to Redis under "<prefix><channel>"; Run receives
// every document channel and hands the messages to the local Deliverer, so
// the publishing process delivers through the same path as its peers.
type RedisRelay struct {
	client *redis.Client
	prefix string
	local  Deliverer

	minBackoff time.Duration
	maxBackoff time.Duration

	readyOnce sync.Once
	ready     chan struct{}
}

// NewRedisRelay creates a relay. Prefix may be empty.
func NewRedisRelay(client *redis.Client, prefix string, local Deliverer) *RedisRelay {
	if prefix == "" {
		prefix = "collab:"
	}
	return &RedisRelay{
		client:     client,
		prefix:     prefix,
		local:      local,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		ready:      make(chan struct{}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return &Error{Channel: n.Channel, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.prefix+n.Channel, b).Err(); err != nil {
		return &Error{Channel: n.Channel, Err: err}
	}
	return nil
}

// Ready is closed once the subscription is confirmed by Redis.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to all document channels and delivers until ctx is done.
// A failed subscription is retried with backoff; once established,
// go-redis reconnects the subscription on its own.
func (r *RedisRelay) Run(ctx context.Context) error {
	pattern := r.prefix + documentChannelPrefix + "*"
	delay := r.minBackoff
	for {
		sub := r.client.PSubscribe(ctx, pattern)
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			if ctx.Err() != nil {
				return nil
			}
			logger.Warnf("relay subscribe to %s failed, retrying in %s: %v", pattern, delay, err)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			delay = min(delay*2, r.maxBackoff)
			continue
		}
		r.readyOnce.Do(func() { close(r.ready) })
		logger.Infof("broadcast relay subscribed to %s", pattern)
		err := r.deliver(ctx, sub)
		sub.Close()
		return err
	}
}

func (r *RedisRelay) deliver(ctx context.Context, sub *redis.PubSub) error {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg)
		}
	}
}

func (r *RedisRelay) handle(msg *redis.Message) {
	var n Notification
	if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
		logger.Warnf("relay: drop malformed message on %s: %v", msg.Channel, err)
		metrics.BroadcastDeliveries.WithLabelValues("failed").Inc()
		return
	}
	if n.Channel == "" {
		n.Channel = strings.TrimPrefix(msg.Channel, r.prefix)
	}
	r.local.Deliver(n)
}
