package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/data"
	"github.com/PaulBabatuyi/chatsync/internal/metrics"
	"github.com/PaulBabatuyi/chatsync/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

// fakeGateway captures sent messages and optionally fails.
type fakeGateway struct {
	sent []Message
	err  error
}

func (f *fakeGateway) Send(ctx context.Context, msg Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func TestNotifyConversationChange(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, nil, 0, zap.NewNop(), nil)

	d.NotifyConversationChange(context.Background(), []string{"tok-A"}, "B", OperationDelete)

	if len(gw.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(gw.sent))
	}
	m := gw.sent[0]
	if m.Data["mateId"] != "B" || m.Data["operation"] != "DELETE" {
		t.Fatalf("unexpected payload: %v", m.Data)
	}
	if m.TTL != 30*24*time.Hour || m.Priority != PriorityHigh {
		t.Fatalf("unexpected options ttl=%s priority=%s", m.TTL, m.Priority)
	}
	if m.Kind != KindConversationChange {
		t.Fatalf("unexpected kind %s", m.Kind)
	}
}

func TestNotifyNewMessage(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, nil, 24*time.Hour, zap.NewNop(), nil)

	msg := data.Message{"id": "m1", "senderId": "A", "receiverId": "B", "body": "hi"}
	d.NotifyNewMessage(context.Background(), []string{"tok-B"}, "A", msg)

	if len(gw.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(gw.sent))
	}
	m := gw.sent[0]
	if m.Data["title"] != "A" || m.Data["body"] != "hi" {
		t.Fatalf("unexpected payload: %v", m.Data)
	}
	var p newMessagePayload
	if err := json.Unmarshal([]byte(m.Data["payload"]), &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.SenderID != "A" || p.MessageID != "m1" {
		t.Fatalf("unexpected payload fields: %+v", p)
	}
	if m.TTL != 24*time.Hour {
		t.Fatalf("configured ttl not applied: %s", m.TTL)
	}
}

func TestDispatcherSkipsEmptyTokens(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, nil, 0, zap.NewNop(), nil)

	d.NotifyConversationChange(context.Background(), []string{"", ""}, "B", OperationUpdate)
	d.NotifyConversationChange(context.Background(), nil, "B", OperationUpdate)
	if len(gw.sent) != 0 {
		t.Fatalf("nothing should be sent without tokens, got %d", len(gw.sent))
	}

	d.NotifyConversationChange(context.Background(), []string{"t", "t", ""}, "B", OperationUpdate)
	if len(gw.sent) != 1 || len(gw.sent[0].Tokens) != 1 {
		t.Fatalf("duplicate tokens should collapse: %+v", gw.sent)
	}
}

func TestDispatcherAbsorbsGatewayErrors(t *testing.T) {
	gw := &fakeGateway{err: errors.New("gateway down")}
	m := metrics.New()
	d := NewDispatcher(gw, nil, 0, zap.NewNop(), m)

	// must not panic or propagate
	d.NotifyNewMessage(context.Background(), []string{"tok"}, "A", data.Message{"id": "m1", "body": "x"})

	if got := testutil.ToFloat64(m.Notifications.WithLabelValues(KindNewMessage, "failed")); got != 1 {
		t.Fatalf("failed counter = %v", got)
	}
}

func TestDispatcherThrottlesPerToken(t *testing.T) {
	gw := &fakeGateway{}
	limiter := middleware.NewLimiterStore(1, 1, time.Hour)
	defer limiter.Stop()
	m := metrics.New()
	d := NewDispatcher(gw, limiter, 0, zap.NewNop(), m)

	ctx := context.Background()
	d.NotifyConversationChange(ctx, []string{"tok"}, "B", OperationUpdate)
	d.NotifyConversationChange(ctx, []string{"tok"}, "B", OperationUpdate)

	if len(gw.sent) != 1 {
		t.Fatalf("second notification should be throttled, sent %d", len(gw.sent))
	}
	if got := testutil.ToFloat64(m.Notifications.WithLabelValues(KindConversationChange, "throttled")); got != 1 {
		t.Fatalf("throttled counter = %v", got)
	}
}

func TestThrottledSignalsDoNotBlockNewMessages(t *testing.T) {
	gw := &fakeGateway{}
	limiter := middleware.NewLimiterStore(1, 1, time.Hour)
	defer limiter.Stop()
	d := NewDispatcher(gw, limiter, 0, zap.NewNop(), nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d.NotifyConversationChange(ctx, []string{"tok"}, "B", OperationDelete)
	}
	d.NotifyNewMessage(ctx, []string{"tok"}, "B", data.Message{"id": "m1", "body": "hi"})

	if len(gw.sent) != 2 {
		t.Fatalf("expected one signal and one alert, sent %d", len(gw.sent))
	}
	if gw.sent[1].Kind != KindNewMessage {
		t.Fatalf("new message alert was throttled by refresh signals")
	}
}

func TestLogGateway(t *testing.T) {
	g := NewLogGateway(zap.NewNop())
	if err := g.Send(context.Background(), Message{Kind: KindNewMessage, Tokens: []string{"t"}}); err != nil {
		t.Fatalf("LogGateway.Send returned error: %v", err)
	}
}
