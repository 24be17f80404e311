package mq

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsConfig defines configuration for the NATS producer.
type NatsConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	ConnectWait   time.Duration `yaml:"connectWait"`
	MaxReconnects int           `yaml:"maxReconnects"`
}

// NatsProducer implements Producer with core NATS publish.
type NatsProducer struct {
	conn *nats.Conn
}

// NewNatsProducer connects to the configured server.
func NewNatsProducer(cfg NatsConfig) (*NatsProducer, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.ConnectWait == 0 {
		cfg.ConnectWait = 5 * time.Second
	}
	opts := []nats.Option{nats.Timeout(cfg.ConnectWait)}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsProducer{conn: conn}, nil
}

// Publish publishes a message on the subject named by topic.
func (n *NatsProducer) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.conn.PublishMsg(toNatsMessage(topic, message))
}

func (n *NatsProducer) Ping(ctx context.Context) error {
	if !n.conn.IsConnected() {
		return errors.New("nats connection is not established")
	}
	return n.conn.FlushWithContext(ctx)
}

// Close drains pending publishes before closing.
func (n *NatsProducer) Close() error {
	return n.conn.Drain()
}

func toNatsMessage(subject string, message *Message) *nats.Msg {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	msg := nats.NewMsg(subject)
	msg.Data = message.Body
	for k, v := range message.Headers {
		msg.Header.Set(k, v)
	}
	if message.ID != "" {
		msg.Header.Set(headerID, message.ID)
	}
	msg.Header.Set(headerTimestamp, message.Timestamp.Format(time.RFC3339Nano))
	return msg
}
