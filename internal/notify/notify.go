// Package notify formats and dispatches the two push notifications the
// synchronizer emits: the silent conversation-change signal and the new
// message alert. Delivery is best effort: errors are logged, never returned.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/data"
	"github.com/PaulBabatuyi/chatsync/internal/metrics"
	"github.com/PaulBabatuyi/chatsync/internal/middleware"

	"go.uber.org/zap"
)

// Operation tells clients how a conversation summary changed.
type Operation string

const (
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Notification kinds, used for logs and metrics.
const (
	KindConversationChange = "conversation_change"
	KindNewMessage         = "new_message"
)

// PriorityHigh is the only priority the dispatcher uses.
const PriorityHigh = "high"

// DefaultTTL is how long the gateway keeps undelivered notifications.
const DefaultTTL = 30 * 24 * time.Hour

// Message is a data-only push handed to a Gateway.
type Message struct {
	Kind     string
	Tokens   []string
	Data     map[string]string
	TTL      time.Duration
	Priority string
}

// Gateway delivers a Message to its device tokens.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher builds notification payloads and hands them to a Gateway.
type Dispatcher struct {
	gateway Gateway
	limiter *middleware.LimiterStore // optional per-token throttle
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics // optional
}

// NewDispatcher returns a Dispatcher. limiter and m may be nil; a zero ttl
// means DefaultTTL.
func NewDispatcher(gw Gateway, limiter *middleware.LimiterStore, ttl time.Duration, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{gateway: gw, limiter: limiter, ttl: ttl, log: log, metrics: m}
}

// NotifyConversationChange sends the silent {mateId, operation} signal that
// tells the owner's other sessions to refresh a conversation.
func (d *Dispatcher) NotifyConversationChange(ctx context.Context, tokens []string, mateID string, op Operation) {
	d.send(ctx, Message{
		Kind:   KindConversationChange,
		Tokens: tokens,
		Data: map[string]string{
			"mateId":    mateID,
			"operation": string(op),
		},
	})
}

// newMessagePayload is what clients use to fetch the message on receipt.
type newMessagePayload struct {
	SenderID  string `json:"senderId"`
	MessageID string `json:"messageId"`
}

// NotifyNewMessage alerts the receiver about msg from senderID. The title is
// the sender id; clients resolve it to a display name from their contacts.
func (d *Dispatcher) NotifyNewMessage(ctx context.Context, tokens []string, senderID string, msg data.Message) {
	payload, err := json.Marshal(newMessagePayload{SenderID: senderID, MessageID: msg.ID()})
	if err != nil {
		d.log.Warn("encode new message payload", zap.Error(err))
		return
	}
	d.send(ctx, Message{
		Kind:   KindNewMessage,
		Tokens: tokens,
		Data: map[string]string{
			"title":   senderID,
			"body":    msg.Body(),
			"payload": string(payload),
		},
	})
}

func (d *Dispatcher) send(ctx context.Context, msg Message) {
	msg.Tokens = d.allowedTokens(msg.Kind, msg.Tokens)
	if len(msg.Tokens) == 0 {
		return
	}
	msg.TTL = d.ttl
	msg.Priority = PriorityHigh

	if err := d.gateway.Send(ctx, msg); err != nil {
		d.log.Warn("notification delivery failed",
			zap.String("kind", msg.Kind),
			zap.Int("tokens", len(msg.Tokens)),
			zap.Error(err))
		d.count(msg.Kind, "failed")
		return
	}
	d.log.Debug("notification sent", zap.String("kind", msg.Kind), zap.Int("tokens", len(msg.Tokens)))
	d.count(msg.Kind, "sent")
}

// allowedTokens drops empty and duplicate tokens and those over their rate.
// Each kind has its own bucket per token, so silent refresh signals never
// use up the budget of new message alerts.
func (d *Dispatcher) allowedTokens(kind string, tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if d.limiter != nil && !d.limiter.Allow(kind+":"+t) {
			d.log.Info("notification throttled", zap.String("kind", kind))
			d.count(kind, "throttled")
			continue
		}
		out = append(out, t)
	}
	return out
}

func (d *Dispatcher) count(kind, outcome string) {
	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues(kind, outcome).Inc()
	}
}

// LogGateway only logs notifications. It stands in for the real gateway when
// no push credentials are configured.
type LogGateway struct {
	log *zap.Logger
}

func NewLogGateway(log *zap.Logger) *LogGateway {
	return &LogGateway{log: log}
}

func (g *LogGateway) Send(ctx context.Context, msg Message) error {
	g.log.Info("dry-run notification",
		zap.String("kind", msg.Kind),
		zap.Int("tokens", len(msg.Tokens)),
		zap.Any("data", msg.Data),
		zap.Duration("ttl", msg.TTL))
	return nil
}
