package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/metrics"
	"github.com/richiesta-assistenza/service_layer/internal/mq"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Delivery is one channel delivery, either sent inline or carried by the
// queue.
type Delivery struct {
	LogID          string                 `json:"log_id,omitempty"`
	NotificationID string                 `json:"notification_id"`
	RecipientID    string                 `json:"recipient_id"`
	Channel        notification.Channel   `json:"channel"`
	Email          string                 `json:"email,omitempty"`
	Phone          string                 `json:"phone,omitempty"`
	Name           string                 `json:"name,omitempty"`
	Type           string                 `json:"type"`
	Title          string                 `json:"title"`
	Content        string                 `json:"content"`
	Priority       notification.Priority  `json:"priority"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// NewDelivery prepares a delivery of n to recipient on channel.
func NewDelivery(recipient user.User, n notification.Notification, channel notification.Channel, content string) Delivery {
	return Delivery{
		NotificationID: n.ID,
		RecipientID:    recipient.ID,
		Channel:        channel,
		Email:          recipient.Email,
		Phone:          recipient.Phone,
		Name:           recipient.FullName(),
		Type:           n.Type,
		Title:          n.Title,
		Content:        content,
		Priority:       n.Priority,
		Data:           n.Data,
	}
}

// Sender delivers on one channel.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, d Delivery) error

func (f SenderFunc) Send(ctx context.Context, d Delivery) error { return f(ctx, d) }

// Mailer sends an HTML email.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, htmlBody string) error
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html lang="it">
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <div style="max-width: 600px; margin: 0 auto; padding: 24px;">
    <h2 style="color: #2563eb;">{{.Title}}</h2>
    {{if .Name}}<p>Ciao {{.Name}},</p>{{end}}
    <p>{{.Content}}</p>
    {{if .Link}}<p><a href="{{.Link}}" style="color: #2563eb;">Apri su Richiesta Assistenza</a></p>{{end}}
    <hr style="border: none; border-top: 1px solid #e5e7eb;">
    <p style="font-size: 12px; color: #6b7280;">Richiesta Assistenza - notifica automatica, non rispondere a questa email.</p>
  </div>
</body>
</html>`))

// RenderEmail renders the notification email body.
func RenderEmail(title, name, content, link string) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct{ Title, Name, Content, Link string }{title, name, content, link})
	return buf.String(), err
}

// EmailSender renders deliveries with the HTML template and mails them.
type EmailSender struct {
	mailer      Mailer
	frontendURL string
}

// NewEmailSender wraps mailer. frontendURL builds deep links when a
// delivery carries a requestId.
func NewEmailSender(mailer Mailer, frontendURL string) *EmailSender {
	return &EmailSender{mailer: mailer, frontendURL: strings.TrimRight(frontendURL, "/")}
}

func (e *EmailSender) Send(ctx context.Context, d Delivery) error {
	if d.Email == "" {
		return fmt.Errorf("recipient %s has no email", d.RecipientID)
	}
	link := ""
	if id, ok := d.Data["requestId"].(string); ok && id != "" && e.frontendURL != "" {
		link = e.frontendURL + "/requests/" + id
	}
	body, err := RenderEmail(d.Title, d.Name, d.Content, link)
	if err != nil {
		return err
	}
	return e.mailer.SendMail(ctx, d.Email, d.Title, body)
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) SendMail(ctx context.Context, to, subject, htmlBody string) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	msg := buildMIME(m.cfg.From, to, subject, htmlBody)

	done := make(chan error, 1)
	go func() { done <- smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMIME(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

// LogMailer logs mail instead of sending it. Used when SMTP is not
// configured.
type LogMailer struct {
	log *logger.Logger
}

func NewLogMailer(log *logger.Logger) *LogMailer {
	if log == nil {
		log = logger.NewDefault("mailer")
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) SendMail(_ context.Context, to, subject, _ string) error {
	m.log.WithField("to", to).WithField("subject", subject).Info("email delivery (log only)")
	return nil
}

// NewLogSender returns a sender that records SMS and push deliveries in the
// log. No SMS or push provider is integrated.
func NewLogSender(log *logger.Logger) Sender {
	if log == nil {
		log = logger.NewDefault("notification-sender")
	}
	return SenderFunc(func(_ context.Context, d Delivery) error {
		target := d.Phone
		if d.Channel == notification.ChannelPush {
			target = d.RecipientID
		}
		if target == "" {
			return fmt.Errorf("recipient %s has no %s address", d.RecipientID, d.Channel)
		}
		log.WithField("channel", string(d.Channel)).
			WithField("recipient_id", d.RecipientID).
			WithField("title", d.Title).
			Info("notification delivered")
		return nil
	})
}

// HandleDelivery processes a queued delivery. Sender failures are recorded on
// the delivery log and not retried; only log persistence errors requeue.
func (s *Service) HandleDelivery(ctx context.Context, routingKey string, body []byte) error {
	var d Delivery
	if _, err := mq.Decode(body, &d); err != nil {
		s.log.WithError(err).WithField("routing_key", routingKey).Warn("discarding malformed delivery")
		return nil
	}
	s.mu.RLock()
	sender := s.senders[d.Channel]
	s.mu.RUnlock()

	entry := notification.Log{
		ID:             d.LogID,
		NotificationID: d.NotificationID,
		RecipientID:    d.RecipientID,
		Channel:        d.Channel,
		Content:        d.Content,
	}
	var err error
	if sender == nil {
		err = fmt.Errorf("channel %s not configured", d.Channel)
	} else {
		err = sender.Send(ctx, d)
	}
	if err != nil {
		entry.Status = notification.DeliveryFailed
		entry.Error = err.Error()
		s.log.WithError(err).
			WithField("notification_id", d.NotificationID).
			WithField("channel", string(d.Channel)).
			Warn("queued delivery failed")
	} else {
		now := time.Now().UTC()
		entry.Status = notification.DeliverySent
		entry.SentAt = &now
	}
	metrics.RecordNotification(string(d.Channel), string(entry.Status))

	if entry.ID == "" {
		_, err = s.store.CreateNotificationLog(ctx, entry)
		return err
	}
	_, err = s.store.UpdateNotificationLog(ctx, entry)
	return err
}
