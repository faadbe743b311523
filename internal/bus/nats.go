package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
)

// Envelope is the JSON form of a Message on NATS.
type Envelope struct {
	Origin      string            `json:"origin"`
	ID          string            `json:"id"`
	Type        MessageType       `json:"type"`
	From        string            `json:"from"`
	To          string            `json:"to,omitempty"`
	Priority    activity.Priority `json:"priority"`
	Timestamp   time.Time         `json:"timestamp"`
	PayloadKind PayloadKind       `json:"payload_kind"`
	Payload     json.RawMessage   `json:"payload"`
}

// NATSBridge mirrors bus traffic onto NATS subjects of the form
// {prefix}.{message_type} and, once attached, injects messages published by
// other processes into the local bus.
//
// Example:
//
//	bridge := bus.NewNATSBridge(nc, "nudged.bus", logger)
//	b := bus.New(logger, bus.WithMirror(bridge))
//	if err := bridge.Attach(b); err != nil { ... }
type NATSBridge struct {
	nc     *nats.Conn
	prefix string
	origin string
	logger *zap.Logger
	sub    *nats.Subscription
}

// NewNATSBridge creates a bridge with a random origin id used to drop its
// own echoes.
func NewNATSBridge(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBridge{
		nc:     nc,
		prefix: strings.TrimSuffix(prefix, "."),
		origin: uuid.New().String(),
		logger: logger,
	}
}

// Subject returns the subject messages of type t are published on.
func (n *NATSBridge) Subject(t MessageType) string {
	return n.prefix + "." + string(t)
}

// Mirror implements Mirror.
func (n *NATSBridge) Mirror(_ context.Context, msg Message) error {
	kind, raw, err := EncodePayload(msg.Payload)
	if err != nil {
		return err
	}
	env := Envelope{
		Origin:      n.origin,
		ID:          msg.ID,
		Type:        msg.Type,
		From:        msg.From,
		To:          msg.To,
		Priority:    msg.Priority,
		Timestamp:   msg.Timestamp,
		PayloadKind: kind,
		Payload:     raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := n.nc.Publish(n.Subject(msg.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	NewMetrics().Mirrored.WithLabelValues("out").Inc()
	return nil
}

// Attach subscribes to every bus subject under the prefix and injects
// remote messages into b. Messages this bridge published itself are skipped.
func (n *NATSBridge) Attach(b *Bus) error {
	sub, err := n.nc.Subscribe(n.prefix+".*", func(m *nats.Msg) {
		msg, origin, err := DecodeEnvelope(m.Data)
		if err != nil {
			n.logger.Warn("dropping malformed bus envelope",
				zap.String("subject", m.Subject),
				zap.Error(err),
			)
			return
		}
		if origin == n.origin {
			return
		}
		NewMetrics().Mirrored.WithLabelValues("in").Inc()
		if err := b.Inject(context.Background(), msg); err != nil {
			n.logger.Warn("remote bus message rejected",
				zap.String("subject", m.Subject),
				zap.String("origin", origin),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s.*: %w", n.prefix, err)
	}
	n.sub = sub
	return nil
}

// Close removes the subscription created by Attach.
func (n *NATSBridge) Close() error {
	if n.sub == nil {
		return nil
	}
	return n.sub.Unsubscribe()
}

// DecodeEnvelope parses a NATS payload into a Message and its origin.
func DecodeEnvelope(data []byte) (Message, string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	payload, err := DecodePayload(env.PayloadKind, env.Payload)
	if err != nil {
		return Message{}, env.Origin, err
	}
	return Message{
		ID:        env.ID,
		Type:      env.Type,
		From:      env.From,
		To:        env.To,
		Payload:   payload,
		Priority:  env.Priority,
		Timestamp: env.Timestamp,
	}, env.Origin, nil
}
