// Package fcm is a notify.Gateway speaking the FCM HTTP v1 API.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/notify"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// TokenProvider supplies OAuth2 access tokens (auth.TokenSource in production).
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Config controls the endpoint, breaker and retry behaviour.
type Config struct {
	Endpoint        string // e.g. https://fcm.googleapis.com
	ProjectID       string
	MaxFailures     uint32        // consecutive failures before the breaker opens
	BreakerTimeout  time.Duration // how long the breaker stays open
	RetryMaxElapsed time.Duration // total retry budget per token
}

// ErrUnregistered is reported for tokens FCM no longer recognises.
var ErrUnregistered = errors.New("fcm: device token is unregistered")

// Client sends one request per device token.
type Client struct {
	cfg    Config
	tokens TokenProvider
	http   *http.Client
	cb     *gobreaker.CircuitBreaker
	log    *zap.Logger
}

// New returns a Client. httpClient may be nil.
func New(cfg Config, tokens TokenProvider, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        "fcm",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// a rejected token is the caller's problem, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnregistered) || isPermanent(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		http:   httpClient,
		cb:     gobreaker.NewCircuitBreaker(st),
		log:    log,
	}
}

type androidConfig struct {
	Priority string `json:"priority"`
	TTL      string `json:"ttl"`
}

type apnsConfig struct {
	Headers map[string]string `json:"headers"`
	Payload map[string]any    `json:"payload"`
}

type message struct {
	Token   string            `json:"token"`
	Data    map[string]string `json:"data"`
	Android androidConfig     `json:"android"`
	APNS    apnsConfig        `json:"apns"`
}

type sendRequest struct {
	Message message `json:"message"`
}

// Send delivers msg to every token. Errors for individual tokens are joined.
func (c *Client) Send(ctx context.Context, msg notify.Message) error {
	var errs []error
	for _, tok := range msg.Tokens {
		if err := c.sendOne(ctx, tok, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) sendOne(ctx context.Context, token string, msg notify.Message) error {
	body, err := json.Marshal(sendRequest{Message: buildMessage(token, msg)})
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.RetryMaxElapsed

	operation := func() error {
		_, err := c.cb.Execute(func() (interface{}, error) {
			return nil, c.post(ctx, body)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests),
			errors.Is(err, ErrUnregistered), isPermanent(err):
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func buildMessage(token string, msg notify.Message) message {
	ttl := msg.TTL
	if ttl <= 0 {
		ttl = notify.DefaultTTL
	}
	apnsPriority := "5"
	if msg.Priority == notify.PriorityHigh {
		apnsPriority = "10"
	}
	return message{
		Token: token,
		Data:  msg.Data,
		Android: androidConfig{
			Priority: msg.Priority,
			TTL:      strconv.FormatInt(int64(ttl/time.Second), 10) + "s",
		},
		APNS: apnsConfig{
			Headers: map[string]string{
				"apns-priority":   apnsPriority,
				"apns-expiration": strconv.FormatInt(time.Now().Add(ttl).Unix(), 10),
			},
			Payload: map[string]any{"aps": map[string]any{"content-available": 1}},
		},
	}
}

// statusError is a non-2xx response from FCM.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("fcm returned %d: %s", e.code, e.body)
}

// isPermanent reports client errors that retrying cannot fix.
func isPermanent(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests
}

func (c *Client) post(ctx context.Context, body []byte) error {
	access, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fcm access token: %w", err)
	}

	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/v1/projects/" + c.cfg.ProjectID + "/messages:send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound && bytes.Contains(raw, []byte("UNREGISTERED")) {
		return ErrUnregistered
	}
	return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
}
