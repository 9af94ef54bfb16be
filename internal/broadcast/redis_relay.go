package broadcast

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisRelay shares broadcasts between service instances over Redis pub/sub.
// Every instance publishes to "<prefix><topic>" and delivers everything it
// receives on the prefix pattern to its local hub, its own messages included.
type RedisRelay struct {
	client         *redis.Client
	prefix         string
	publishTimeout time.Duration
	log            logrus.FieldLogger
}

// NewRedisRelay creates a relay using channel prefix, e.g. "guardian:broadcast:".
func NewRedisRelay(client *redis.Client, prefix string, log logrus.FieldLogger) *RedisRelay {
	return &RedisRelay{client: client, prefix: prefix, publishTimeout: 2 * time.Second, log: log}
}

// Publish implements Relay.
func (r *RedisRelay) Publish(topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, r.prefix+topic, data).Err()
}

// Run subscribes to the relay channels and feeds received messages into hub
// until ctx is cancelled. ready, when non-nil, is closed once the
// subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub, ready chan<- struct{}) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	r.log.WithField("pattern", r.prefix+"*").Info("Broadcast relay subscribed.")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, r.prefix)
			hub.Deliver(topic, []byte(msg.Payload))
		}
	}
}
