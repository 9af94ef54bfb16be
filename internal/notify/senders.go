package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPSender sends plain-text email through an SMTP relay. The connection is
// upgraded with STARTTLS whenever the relay offers it, verifying the relay
// certificate against Host.
type SMTPSender struct {
	cfg         SMTPConfig
	dialTimeout time.Duration
	tlsConfig   *tls.Config
}

// NewSMTPSender creates an SMTP email channel.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		cfg:         cfg,
		dialTimeout: 10 * time.Second,
		tlsConfig:   &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
	}
}

// SendEmail implements EmailSender. The context deadline bounds the whole exchange.
func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(s.tlsConfig.Clone()); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMessage(s.cfg.From, to, subject, body)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + strings.ReplaceAll(subject, "\n", " ") + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// FCMSender posts push messages to a Firebase Cloud Messaging compatible endpoint.
type FCMSender struct {
	client *resty.Client
}

type fcmMessage struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    fcmNotification   `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
	Priority        string            `json:"priority"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// NewFCMSender creates a push channel for endpoint authenticated with serverKey.
func NewFCMSender(endpoint, serverKey string) *FCMSender {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "key="+serverKey)
	return &FCMSender{client: client}
}

// SendPush implements PushSender.
func (s *FCMSender) SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}
	var result fcmResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(fcmMessage{
			RegistrationIDs: tokens,
			Notification:    fcmNotification{Title: title, Body: body},
			Data:            data,
			Priority:        "high",
		}).
		SetResult(&result).
		Post("")
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode())
	}
	if result.Success == 0 && result.Failure > 0 {
		return errors.New("push rejected for every device token")
	}
	return nil
}

// LogEmailSender records emails in the log instead of sending them.
type LogEmailSender struct {
	Log logrus.FieldLogger
}

// SendEmail implements EmailSender.
func (s LogEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("Email channel not configured; message logged only.")
	}
	return nil
}

// LogPushSender records pushes in the log instead of sending them.
type LogPushSender struct {
	Log logrus.FieldLogger
}

// SendPush implements PushSender.
func (s LogPushSender) SendPush(_ context.Context, tokens []string, title, _ string, _ map[string]string) error {
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{"tokens": len(tokens), "title": title}).Info("Push channel not configured; message logged only.")
	}
	return nil
}
