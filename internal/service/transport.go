package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"bookmyenv/internal/config"
	"bookmyenv/internal/model"
	"bookmyenv/internal/pkg/utils"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Delivery is one outbound message handed to a Transport.
type Delivery struct {
	Channel     model.Channel   `json:"channel"`
	EventType   model.EventType `json:"event_type"`
	IntentID    string          `json:"intent_id"`
	Target      string          `json:"target"` // email address or webhook URL
	Subject     string          `json:"subject"`
	Body        string          `json:"body"`
	ContentType string          `json:"content_type"`
	Secret      string          `json:"-"`
}

// Transport moves a Delivery to the outside world.
type Transport interface {
	Deliver(ctx context.Context, d Delivery) error
}

// NewTransport builds the transport selected by notification.delivery_mode.
// The returned closer is nil when the transport holds no resources.
func NewTransport(cfg *config.Config, logger *zap.Logger) (Transport, io.Closer, error) {
	switch cfg.Notification.DeliveryMode {
	case config.DeliveryModeDirect:
		web := NewHTTPTransport(cfg.Notification.HTTPTimeout)
		return &RoutedTransport{
			routes: map[model.Channel]Transport{
				model.ChannelEmail:   NewSMTPTransport(&cfg.Email),
				model.ChannelTeams:   web,
				model.ChannelSlack:   web,
				model.ChannelWebhook: web,
			},
		}, nil, nil
	case config.DeliveryModeAMQP:
		t, err := NewAMQPTransport(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return nil, nil, err
		}
		return t, t, nil
	default:
		return NewLogTransport(logger), nil, nil
	}
}

// LogTransport only records the intended send. It is the default because
// email and webhook delivery belong to external integrations.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Deliver(ctx context.Context, d Delivery) error {
	t.logger.Debug("notification delivery (log only)",
		zap.String("channel", string(d.Channel)),
		zap.String("event", string(d.EventType)),
		zap.String("intent_id", d.IntentID),
		zap.String("target", utils.MaskTarget(d.Target)),
		zap.String("subject", d.Subject))
	return nil
}

// RoutedTransport picks a transport per channel.
type RoutedTransport struct {
	routes map[model.Channel]Transport
}

func (t *RoutedTransport) Deliver(ctx context.Context, d Delivery) error {
	route, ok := t.routes[d.Channel]
	if !ok {
		return fmt.Errorf("no transport for channel %s", d.Channel)
	}
	return route.Deliver(ctx, d)
}

// HTTPTransport POSTs JSON payloads to Teams, Slack and custom webhooks.
type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Deliver(ctx context.Context, d Delivery) error {
	payload := []byte(d.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Target, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	contentType := d.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	if d.Secret != "" {
		req.Header.Set("X-Webhook-Signature", SignPayload(d.Secret, payload))
		req.Header.Set("X-Webhook-Timestamp", time.Now().Format(time.RFC3339))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload.
func SignPayload(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SMTPTransport sends plain text email.
type SMTPTransport struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewSMTPTransport(cfg *config.EmailConfig) *SMTPTransport {
	return &SMTPTransport{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}
}

func (t *SMTPTransport) Deliver(ctx context.Context, d Delivery) error {
	if t.host == "" {
		return fmt.Errorf("smtp is not configured")
	}

	msg := t.buildMessage(d.Target, d.Subject, d.Body)
	if t.port == 465 {
		return t.sendTLS(d.Target, msg)
	}

	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	var auth smtp.Auth
	if t.username != "" {
		auth = smtp.PlainAuth("", t.username, t.password, t.host)
	}
	return smtp.SendMail(addr, auth, t.from, []string{d.Target}, msg)
}

func (t *SMTPTransport) buildMessage(to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", t.from)
	fmt.Fprintf(&b, "To: %s\r\n", headerValue(to))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerValue(subject)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// headerValue folds line breaks so user text cannot start a new header.
func headerValue(v string) string {
	return headerBreaks.Replace(v)
}

// sendTLS handles implicit TLS (port 465), which smtp.SendMail does not.
func (t *SMTPTransport) sendTLS(to string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: t.host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, t.host)
	if err != nil {
		return err
	}
	defer client.Close()

	if t.username != "" {
		if err = client.Auth(smtp.PlainAuth("", t.username, t.password, t.host)); err != nil {
			return err
		}
	}
	if err = client.Mail(t.from); err != nil {
		return err
	}
	if err = client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write(msg); err != nil {
		return err
	}
	if err = w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// AMQPEnvelope is the message published for external delivery workers.
type AMQPEnvelope struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Delivery   Delivery  `json:"delivery"`
	// Signature is the X-Webhook-Signature value the worker must send.
	// The secret itself never leaves this process.
	Signature string `json:"signature,omitempty"`
}

func newAMQPEnvelope(d Delivery) AMQPEnvelope {
	env := AMQPEnvelope{ID: uuid.NewString(), OccurredAt: time.Now().UTC(), Delivery: d}
	if d.Secret != "" {
		env.Signature = SignPayload(d.Secret, []byte(d.Body))
	}
	return env
}

// AMQPTransport relays deliveries to a topic exchange; a downstream worker
// performs the actual send.
type AMQPTransport struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger
}

func NewAMQPTransport(url, exchange string, logger *zap.Logger) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPTransport{conn: conn, exchange: exchange, logger: logger}, nil
}

// RoutingKey is notification.<channel>, e.g. notification.teams.
func RoutingKey(channel model.Channel) string {
	return "notification." + strings.ToLower(string(channel))
}

func (t *AMQPTransport) Deliver(ctx context.Context, d Delivery) error {
	ch, err := t.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	env := newAMQPEnvelope(d)
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	key := RoutingKey(d.Channel)
	err = ch.PublishWithContext(ctx, t.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID,
		CorrelationId: d.IntentID,
		Timestamp:     env.OccurredAt,
		Body:          body,
	})
	if err == nil {
		t.logger.Debug("notification published", zap.String("exchange", t.exchange), zap.String("key", key))
	}
	return err
}

func (t *AMQPTransport) Close() error {
	return t.conn.Close()
}
