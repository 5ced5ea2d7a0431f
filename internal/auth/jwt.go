// Package auth mints OAuth2 access tokens for the push gateway from a Google
// service-account key using the JWT bearer grant.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MessagingScope is the OAuth2 scope required by the FCM HTTP v1 API.
const MessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

const (
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	jwtBearerGrant  = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// assertions are valid for at most one hour
	assertionLifetime = time.Hour
	// cached access tokens are refreshed this long before they expire
	refreshSkew = time.Minute
)

// ServiceAccount is the subset of a service-account key file needed to sign assertions.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount reads and parses a key file.
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account: %w", err)
	}
	return ParseServiceAccount(b)
}

// ParseServiceAccount parses the JSON key file contents.
func ParseServiceAccount(b []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(b, &sa); err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, errors.New("service account is missing client_email or private_key")
	}
	return &sa, nil
}

// Claims is the JWT assertion payload (issuer, audience, scope).
type Claims struct {
	Scope                string `json:"scope"` // Space separated OAuth2 scopes
	jwt.RegisteredClaims        // Includes Issuer, Audience, ExpiresAt, IssuedAt
}

// TokenSource exchanges signed assertions for access tokens and caches them
// until shortly before expiry. It is safe for concurrent use.
type TokenSource struct {
	account  *ServiceAccount
	key      *rsa.PrivateKey // Parsed from account.PrivateKey
	scope    string
	tokenURL string
	client   *http.Client
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource returns a TokenSource for the account. An empty tokenURL
// falls back to the key file's token_uri and then to Google's endpoint.
func NewTokenSource(sa *ServiceAccount, scope, tokenURL string, client *http.Client) (*TokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	if tokenURL == "" {
		tokenURL = sa.TokenURI
	}
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenSource{
		account:  sa,
		key:      key,
		scope:    scope,
		tokenURL: tokenURL,
		client:   client,
		now:      time.Now,
	}, nil
}

// Assertion signs a JWT bearer assertion for the token endpoint.
func (ts *TokenSource) Assertion() (string, time.Time, error) {
	// Calculate when this assertion will expire (current time + lifetime)
	issuedAt := ts.now()
	expiresAt := issuedAt.Add(assertionLifetime)

	claims := &Claims{
		Scope: ts.scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.account.ClientEmail,
			Audience:  jwt.ClaimStrings{ts.tokenURL},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	// RS256 is the only algorithm the token endpoint accepts for service accounts
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if ts.account.PrivateKeyID != "" {
		token.Header["kid"] = ts.account.PrivateKeyID
	}

	signed, err := token.SignedString(ts.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token returns a cached access token, fetching a new one when needed.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Add(refreshSkew).Before(ts.expiresAt) {
		return ts.token, nil
	}

	assertion, _, err := ts.Assertion()
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{"grant_type": {jwtBearerGrant}, "assertion": {assertion}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token endpoint returned an empty access token")
	}

	ts.token = tr.AccessToken
	ts.expiresAt = ts.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return ts.token, nil
}
