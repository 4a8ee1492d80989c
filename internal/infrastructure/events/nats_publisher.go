// Package events fans committed messaging mutations out, over NATS or in process.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"swapmarket/internal/domain/entity"
	"swapmarket/pkg/logger"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Connect dials NATS and keeps reconnecting forever.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("swapmarket-messaging"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error: %v", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

type NATSPublisher struct {
	conn   Conn
	prefix string
}

func NewNATSPublisher(conn Conn, subjectPrefix string) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		prefix: subjectPrefix,
	}
}

// Subject is where events of type t are published, e.g.
// "swapmarket.messaging.message.sent".
func Subject(prefix string, t entity.EventType) string {
	return prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(ctx context.Context, event entity.MessagingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	if err := p.conn.Publish(Subject(p.prefix, event.Type), data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

// Subscribe delivers every event under the prefix to handler until the
// returned function is called. Undecodable payloads are dropped.
func (p *NATSPublisher) Subscribe(handler func(entity.MessagingEvent)) (func(), error) {
	sub, err := p.conn.Subscribe(p.prefix+".>", func(msg *nats.Msg) {
		var event entity.MessagingEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Warn("Dropping malformed event on %s: %v", msg.Subject, err)
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s.>: %w", p.prefix, err)
	}
	return func() {
		if sub == nil {
			return
		}
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("Failed to unsubscribe from events: %v", err)
		}
	}, nil
}
