package fcm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/notify"

	"go.uber.org/zap"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) { return string(s), nil }

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:        endpoint,
		ProjectID:       "chat-test",
		MaxFailures:     3,
		BreakerTimeout:  time.Minute,
		RetryMaxElapsed: time.Second,
	}
}

func TestSendBuildsV1Request(t *testing.T) {
	var got sendRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"name":"projects/chat-test/messages/1"}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), staticTokens("access"), srv.Client(), zap.NewNop())
	err := c.Send(context.Background(), notify.Message{
		Tokens:   []string{"tok-B"},
		Data:     map[string]string{"mateId": "A", "operation": "UPDATE"},
		TTL:      30 * 24 * time.Hour,
		Priority: notify.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if auth != "Bearer access" {
		t.Fatalf("unexpected Authorization header %q", auth)
	}
	if path != "/v1/projects/chat-test/messages:send" {
		t.Fatalf("unexpected path %q", path)
	}
	if got.Message.Token != "tok-B" || got.Message.Data["operation"] != "UPDATE" {
		t.Fatalf("unexpected message: %+v", got.Message)
	}
	if got.Message.Android.TTL != "2592000s" || got.Message.Android.Priority != "high" {
		t.Fatalf("unexpected android config: %+v", got.Message.Android)
	}
	if got.Message.APNS.Headers["apns-priority"] != "10" {
		t.Fatalf("unexpected apns headers: %v", got.Message.APNS.Headers)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), staticTokens("access"), srv.Client(), zap.NewNop())
	if err := c.Send(context.Background(), notify.Message{Tokens: []string{"t"}}); err != nil {
		t.Fatalf("Send should succeed after retry: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"status":"NOT_FOUND","details":[{"errorCode":"UNREGISTERED"}]}}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), staticTokens("access"), srv.Client(), zap.NewNop())
	err := c.Send(context.Background(), notify.Message{Tokens: []string{"stale"}})
	if !errors.Is(err, ErrUnregistered) {
		t.Fatalf("expected ErrUnregistered, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", n)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryMaxElapsed = 200 * time.Millisecond
	c := New(cfg, staticTokens("access"), srv.Client(), zap.NewNop())

	// enough tokens to exhaust the breaker budget
	_ = c.Send(context.Background(), notify.Message{Tokens: []string{"a", "b", "c", "d"}})

	before := atomic.LoadInt32(&calls)
	err := c.Send(context.Background(), notify.Message{Tokens: []string{"e"}})
	if err == nil {
		t.Fatal("expected error while breaker is open")
	}
	if after := atomic.LoadInt32(&calls); after != before {
		t.Fatalf("open breaker should short-circuit requests (%d -> %d)", before, after)
	}
}
