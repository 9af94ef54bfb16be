package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestHub_BroadcastReachesTopicSubscribersOnly(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log, 10, 4)
	defer h.Close()

	dash := h.Subscribe(TopicDashboard)
	alerts := h.Subscribe(TopicAnomalies)

	h.Broadcast(TopicDashboard, map[string]int{"count": 2})

	var got map[string]int
	require.NoError(t, json.Unmarshal(receive(t, dash), &got))
	assert.Equal(t, 2, got["count"])

	select {
	case <-alerts.C:
		t.Fatal("anomalies subscriber should not receive dashboard payloads")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_LeaveDoesNotAffectOthers(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log, 10, 4)
	defer h.Close()

	a := h.Subscribe(TopicDashboard)
	b := h.Subscribe(TopicDashboard)
	assert.Equal(t, 2, h.Subscribers(TopicDashboard))

	a.Close()
	a.Close()
	_, open := <-a.C
	assert.False(t, open)

	h.Broadcast(TopicDashboard, "hello")
	assert.Equal(t, `"hello"`, string(receive(t, b)))
	assert.Equal(t, 1, h.Subscribers(TopicDashboard))
}

func TestHub_SlowSubscriberDoesNotBlockBroadcast(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log, 100, 1)
	defer h.Close()

	slow := h.Subscribe(TopicAnomalies)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			h.Broadcast(TopicAnomalies, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
	assert.NotNil(t, receive(t, slow))
}

func TestHub_CloseClosesSubscriptions(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log, 10, 4)
	sub := h.Subscribe(TopicDashboard)

	h.Close()
	_, open := <-sub.C
	assert.False(t, open)
	assert.NotPanics(t, func() {
		h.Broadcast(TopicDashboard, 1)
		sub.Close()
	})
}

func TestRedisRelay_DeliversThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	log, _ := test.NewNullLogger()
	h := NewHub(log, 10, 4)
	defer h.Close()

	relay := NewRedisRelay(client, "guardian:broadcast:", log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	go relay.Run(ctx, h, ready)
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	h.SetRelay(relay)
	sub := h.Subscribe(TopicAnomalies)
	h.Broadcast(TopicAnomalies, map[string]string{"severity": "high"})

	var got map[string]string
	require.NoError(t, json.Unmarshal(receive(t, sub), &got))
	assert.Equal(t, "high", got["severity"])
}

func TestRedisRelay_FallsBackToLocalOnPublishError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	log, hook := test.NewNullLogger()
	h := NewHub(log, 10, 4)
	defer h.Close()

	h.SetRelay(NewRedisRelay(client, "p:", log))
	mr.Close()

	sub := h.Subscribe(TopicDashboard)
	h.Broadcast(TopicDashboard, "x")
	assert.Equal(t, `"x"`, string(receive(t, sub)))
	assert.NotEmpty(t, hook.AllEntries())
	client.Close()
}

type blockingRelay struct {
	release chan struct{}
	topics  chan string
}

func (r *blockingRelay) Publish(topic string, _ []byte) error {
	<-r.release
	r.topics <- topic
	return nil
}

func TestHub_SlowRelayDoesNotBlockBroadcast(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log, 10, 4)
	defer h.Close()
	relay := &blockingRelay{release: make(chan struct{}), topics: make(chan string, 1)}
	h.SetRelay(relay)

	returned := make(chan struct{})
	go func() {
		h.Broadcast(TopicAnomalies, "alert")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Broadcast waited on the relay")
	}

	close(relay.release)
	select {
	case topic := <-relay.topics:
		assert.Equal(t, TopicAnomalies, topic)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never received the message")
	}
}
