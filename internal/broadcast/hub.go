// Package broadcast fans live payloads out to subscribers of a topic.
//
// Delivery is best effort: Broadcast enqueues and returns, and a subscriber
// whose buffer is full simply misses the message. Nothing is persisted or
// replayed.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	TopicDashboard = "dashboard"
	TopicAnomalies = "anomalies"
)

// Relay carries published messages between service instances. When a relay
// is configured the hub publishes through it from its delivery goroutine and
// delivers what it receives.
type Relay interface {
	Publish(topic string, data []byte) error
}

type envelope struct {
	topic string
	data  []byte
	// outbound messages go to the relay first, when one is set
	outbound bool
}

// Subscription is one live subscriber. Messages arrive on C until the
// subscription is closed.
type Subscription struct {
	Topic string
	C     <-chan []byte

	send chan []byte
	hub  *Hub
}

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub manages topic subscriptions and broadcasts updates.
type Hub struct {
	mu           sync.RWMutex
	topics       map[string]map[*Subscription]struct{}
	queue        chan envelope
	done         chan struct{}
	once         sync.Once
	relay        Relay
	log          logrus.FieldLogger
	clientBuffer int
}

// NewHub creates a hub and starts its delivery goroutine.
func NewHub(log logrus.FieldLogger, queueSize, clientBuffer int) *Hub {
	if queueSize <= 0 {
		queueSize = 100
	}
	if clientBuffer <= 0 {
		clientBuffer = 16
	}
	h := &Hub{
		topics:       make(map[string]map[*Subscription]struct{}),
		queue:        make(chan envelope, queueSize),
		done:         make(chan struct{}),
		log:          log,
		clientBuffer: clientBuffer,
	}
	go h.run()
	return h
}

// SetRelay routes future broadcasts through r.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = r
}

// Subscribe registers a new subscriber for topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	send := make(chan []byte, h.clientBuffer)
	sub := &Subscription{Topic: topic, C: send, send: send, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*Subscription]struct{})
	}
	h.topics[topic][sub] = struct{}{}
	h.log.WithFields(logrus.Fields{
		"topic":       topic,
		"subscribers": len(h.topics[topic]),
	}).Debug("Subscriber registered with hub.")
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[sub.Topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.send)
	if len(subs) == 0 {
		delete(h.topics, sub.Topic)
	}
	h.log.WithField("topic", sub.Topic).Debug("Subscriber unregistered from hub.")
}

// Subscribers returns the number of live subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Broadcast encodes payload as JSON and enqueues it for topic. It never blocks.
func (h *Hub) Broadcast(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.WithError(err).WithField("topic", topic).Error("Failed to encode broadcast payload.")
		return
	}
	h.enqueue(envelope{topic: topic, data: data, outbound: true})
}

// Deliver enqueues already encoded data for local subscribers of topic.
func (h *Hub) Deliver(topic string, data []byte) {
	h.enqueue(envelope{topic: topic, data: data})
}

func (h *Hub) enqueue(msg envelope) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.queue <- msg:
	default:
		h.log.WithField("topic", msg.topic).Warn("Broadcast queue full, dropping message.")
	}
}

// Close stops the delivery goroutine and closes every subscription.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		defer h.mu.Unlock()
		for topic, subs := range h.topics {
			for sub := range subs {
				close(sub.send)
			}
			delete(h.topics, topic)
		}
	})
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.queue:
			if msg.outbound && h.publish(msg) {
				continue
			}
			h.fanOut(msg)
		}
	}
}

// publish hands msg to the relay. It reports false when there is no relay
// or the publish failed, in which case the message is delivered locally.
func (h *Hub) publish(msg envelope) bool {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return false
	}
	if err := relay.Publish(msg.topic, msg.data); err != nil {
		h.log.WithError(err).WithField("topic", msg.topic).Warn("Relay publish failed; delivering locally.")
		return false
	}
	return true
}

func (h *Hub) fanOut(msg envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[msg.topic] {
		select {
		case sub.send <- msg.data:
		default:
			h.log.WithField("topic", msg.topic).Debug("Subscriber buffer full, message dropped.")
		}
	}
}
