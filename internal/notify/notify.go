// Package notify fans escape and anomaly events out to administrators over the
// in-app, email and push channels, and to live subscribers through a Publisher.
//
// The in-app record is always written first. Email and push are best effort:
// a failure on one channel is logged and never prevents the others.
package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/models"
)

// Message is one notification to deliver.
type Message struct {
	Subject string
	Body    string
	// Email and Push request those channels in addition to in-app.
	Email bool
	Push  bool
	// Data is attached to push payloads.
	Data map[string]string
}

// Store is the persistence the dispatcher needs.
type Store interface {
	ListAdmins(ctx context.Context) ([]models.User, error)
	ListUserDevices(ctx context.Context, userID uint) ([]models.UserDevice, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// EmailSender delivers a single email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// PushSender delivers a push message to a set of device tokens.
type PushSender interface {
	SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// Publisher fans a payload out to live subscribers of a topic.
type Publisher interface {
	Broadcast(topic string, payload interface{})
}

// Dispatcher implements the notification fan-out.
type Dispatcher struct {
	store       Store
	email       EmailSender
	push        PushSender
	publisher   Publisher
	log         logrus.FieldLogger
	sendTimeout time.Duration
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithEmail sets the email channel.
func WithEmail(s EmailSender) Option { return func(d *Dispatcher) { d.email = s } }

// WithPush sets the push channel.
func WithPush(s PushSender) Option { return func(d *Dispatcher) { d.push = s } }

// WithPublisher sets the live broadcast target.
func WithPublisher(p Publisher) Option { return func(d *Dispatcher) { d.publisher = p } }

// WithSendTimeout bounds each email or push attempt.
func WithSendTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.sendTimeout = t } }

// NewDispatcher creates a dispatcher. Channels left unset fall back to logging senders.
func NewDispatcher(store Store, log logrus.FieldLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		log:         log,
		sendTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}
	if d.email == nil {
		d.email = LogEmailSender{Log: log}
	}
	if d.push == nil {
		d.push = LogPushSender{Log: log}
	}
	return d
}

// Notify delivers msg to one recipient. It never returns an error: every
// channel failure is logged and swallowed.
func (d *Dispatcher) Notify(ctx context.Context, recipient models.User, msg Message) {
	entry := d.log.WithFields(logrus.Fields{
		"user_id": recipient.ID,
		"subject": msg.Subject,
	})

	n := models.Notification{UserID: recipient.ID, Subject: msg.Subject, Message: msg.Body}
	if err := d.store.CreateNotification(ctx, &n); err != nil {
		entry.WithError(err).Error("Failed to create in-app notification.")
	}

	if msg.Email && recipient.Email != "" && recipient.NotifyEmail {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		if err := d.email.SendEmail(sendCtx, recipient.Email, msg.Subject, msg.Body); err != nil {
			entry.WithError(err).Warn("Email notification failed.")
		}
		cancel()
	}

	if msg.Push && recipient.NotifyPush {
		d.sendPush(ctx, entry, recipient, msg)
	}
}

func (d *Dispatcher) sendPush(ctx context.Context, entry logrus.FieldLogger, recipient models.User, msg Message) {
	devices, err := d.store.ListUserDevices(ctx, recipient.ID)
	if err != nil {
		entry.WithError(err).Warn("Could not load push devices.")
		return
	}
	if len(devices) == 0 {
		return
	}
	tokens := make([]string, 0, len(devices))
	for _, dev := range devices {
		tokens = append(tokens, dev.DeviceToken)
	}
	title := msg.Subject
	if title == "" {
		title = "Notification"
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := d.push.SendPush(sendCtx, tokens, title, msg.Body, msg.Data); err != nil {
		entry.WithError(err).WithField("tokens", len(tokens)).Warn("Push notification failed.")
	}
}

// NotifyAdmins delivers msg to every administrator and returns how many were targeted.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, msg Message) int {
	admins, err := d.store.ListAdmins(ctx)
	if err != nil {
		d.log.WithError(err).Error("Failed to list administrators for notification.")
		return 0
	}
	for _, admin := range admins {
		d.Notify(ctx, admin, msg)
	}
	return len(admins)
}

// Broadcast forwards payload to live subscribers of topic, if a publisher is configured.
func (d *Dispatcher) Broadcast(topic string, payload interface{}) {
	if d.publisher == nil {
		return
	}
	d.publisher.Broadcast(topic, payload)
}
