// Package ingest receives wearable telemetry over MQTT and feeds it to the
// tracking state machine.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/tracking"
)

// DefaultTopic matches guardian/wearables/<device_id>/telemetry.
const DefaultTopic = "guardian/wearables/+/telemetry"

var ErrMissingDeviceID = errors.New("telemetry without device id")

// DeviceReporter is the tracking entry point for wearable reports.
type DeviceReporter interface {
	ReportFromDevice(ctx context.Context, r tracking.DeviceReport) (tracking.Result, error)
}

// Config holds broker settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Subscriber consumes the telemetry topic.
type Subscriber struct {
	cfg      Config
	client   mqtt.Client
	reporter DeviceReporter
	log      logrus.FieldLogger
	timeout  time.Duration
}

// NewSubscriber prepares a client; nothing connects until Start.
func NewSubscriber(cfg Config, reporter DeviceReporter, log logrus.FieldLogger) *Subscriber {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	s := &Subscriber{cfg: cfg, reporter: reporter, log: log, timeout: 10 * time.Second}
	// subscriptions do not survive a clean-session reconnect
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := s.subscribe(c); err != nil {
			s.log.WithError(err).Error("MQTT resubscribe failed.")
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.WithError(err).Warn("MQTT connection lost; reconnecting.")
	})
	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker. The subscription is made by the connect handler.
func (s *Subscriber) Start() error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	s.log.WithFields(logrus.Fields{"broker": s.cfg.Broker, "topic": s.cfg.Topic}).Info("MQTT telemetry subscriber started.")
	return nil
}

// Stop disconnects, waiting briefly for in-flight work.
func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *Subscriber) subscribe(c mqtt.Client) error {
	if token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.cfg.Topic, token.Error())
	}
	return nil
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
		s.log.WithError(err).WithField("topic", msg.Topic()).Warn("Telemetry message rejected.")
	}
}

// HandleMessage decodes one telemetry payload and reports it. When the
// payload carries no device id, the topic segment before the last is used.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	var t Telemetry
	if err := json.Unmarshal(payload, &t); err != nil {
		return fmt.Errorf("decode telemetry: %w", err)
	}
	if t.DeviceID == "" {
		t.DeviceID = deviceFromTopic(topic)
	}
	if t.DeviceID == "" {
		return ErrMissingDeviceID
	}
	point, err := t.Point()
	if err != nil {
		return fmt.Errorf("device %s: %w", t.DeviceID, err)
	}

	res, err := s.reporter.ReportFromDevice(ctx, tracking.DeviceReport{
		DeviceID:       t.DeviceID,
		Secret:         t.Secret,
		Position:       point,
		Timestamp:      t.Timestamp,
		BatteryLevel:   t.BatteryLevel,
		SignalStrength: t.SignalStrength,
		WasReset:       t.WasReset,
		Source:         "wearable",
	})
	if err != nil {
		return fmt.Errorf("device %s: %w", t.DeviceID, err)
	}
	s.log.WithFields(logrus.Fields{
		"device_id": t.DeviceID,
		"child_id":  res.Tracking.ChildID,
		"status":    res.Tracking.Status,
		"outside":   res.Outside,
		"position":  point != nil,
	}).Debug("Wearable telemetry processed.")
	return nil
}

func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
