package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MQTT NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// Topic is the prefix; events go to {Topic}/{event type}.
	Topic string
	QoS   byte

	ConnectTimeout time.Duration
}

// publisher is the slice of mqtt.Client the notifier uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier publishes request notices as JSON for dashboards and
// hospital integrations.
type MQTTNotifier struct {
	client publisher
	conn   mqtt.Client
	topic  string
	qos    byte
	log    *logger.Logger
}

// mqttMessage is the published payload.
type mqttMessage struct {
	Type       shared.EventType `json:"type"`
	RequestID  string           `json:"request_id"`
	Message    string           `json:"message"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NewMQTTNotifier connects to the broker.
func NewMQTTNotifier(cfg MQTTConfig, log *logger.Logger) (*MQTTNotifier, error) {
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

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts.SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect to MQTT broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	n := newMQTTNotifier(client, cfg.Topic, cfg.QoS, log)
	n.conn = client
	return n, nil
}

func newMQTTNotifier(client publisher, topic string, qos byte, log *logger.Logger) *MQTTNotifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &MQTTNotifier{
		client: client,
		topic:  strings.TrimSuffix(topic, "/"),
		qos:    qos,
		log:    log.Named("mqtt"),
	}
}

// TopicFor returns the topic an event type is published to.
func (n *MQTTNotifier) TopicFor(t shared.EventType) string {
	return n.topic + "/" + string(t)
}

// Handle is an event bus handler for request notices.
func (n *MQTTNotifier) Handle(ctx context.Context, event shared.Event) error {
	payload, err := json.Marshal(mqttMessage{
		Type:       event.EventType(),
		RequestID:  event.AggregateID(),
		Message:    noticeMessage(event),
		OccurredAt: event.OccurredAt(),
	})
	if err != nil {
		return fmt.Errorf("encode mqtt payload: %w", err)
	}

	topic := n.TopicFor(event.EventType())
	token := n.client.Publish(topic, n.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	n.log.Debug("notice published", logger.String("topic", topic), logger.RequestID(event.AggregateID()))
	return nil
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	if n.conn != nil {
		n.conn.Disconnect(250)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LOG NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// LogNotifier writes every notice to the structured log. The worker always
// subscribes it, so notices are visible even with no channel configured.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogNotifier{log: log.Named("notice")}
}

// Handle is an event bus handler.
func (n *LogNotifier) Handle(_ context.Context, event shared.Event) error {
	n.log.Info(noticeMessage(event),
		logger.String("event_type", string(event.EventType())),
		logger.RequestID(event.AggregateID()),
		logger.Time("occurred_at", event.OccurredAt()))
	return nil
}

// noticeMessage extracts the human-readable message of an event.
func noticeMessage(event shared.Event) string {
	if e, ok := event.(shared.RequestNoticeEvent); ok {
		return e.Message
	}
	if msg, ok := event.Payload()["message"].(string); ok {
		return msg
	}
	return string(event.EventType())
}
