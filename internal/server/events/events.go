// Package events publishes domain events to the Redis message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/redis/go-redis/v9"
)

const EventUserRegistered = "user_registered"

// UserRegistered is emitted once an account has been created.
type UserRegistered struct {
	Event     string    `json:"event"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events synchronously.
type Publisher interface {
	Publish(ctx context.Context, e UserRegistered) error
}

// RedisPublisher publishes JSON events on a Pub/Sub channel.
type RedisPublisher struct {
	rdb     redis.Cmdable
	channel string
}

func NewRedisPublisher(rdb redis.Cmdable, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, e UserRegistered) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}

// Notifier sends events in the background. Failures are logged and
// otherwise dropped; delivery guarantees are the bus's business.
type Notifier struct {
	pub     Publisher
	log     logging.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewNotifier(pub Publisher, log logging.Logger) *Notifier {
	return &Notifier{pub: pub, log: log.With("module", "events"), timeout: 5 * time.Second}
}

// UserRegistered fires the event and returns immediately. The request
// context only contributes its values; its cancellation is ignored.
func (n *Notifier) UserRegistered(ctx context.Context, userID, email, role string) {
	e := UserRegistered{
		Event:     EventUserRegistered,
		UserID:    userID,
		Email:     email,
		Role:      role,
		Timestamp: time.Now().UTC(),
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		if err := n.pub.Publish(ctx, e); err != nil {
			n.log.Warn(ctx, "event publish failed", "event", e.Event, "user_id", userID, "error", err)
			return
		}
		n.log.Debug(ctx, "event published", "event", e.Event, "user_id", userID)
	}()
}

// Wait blocks until in-flight events are done.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
