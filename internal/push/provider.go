package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Provider defines the provider-agnostic push channel used by business logic.
//
// Rules:
// - No push SDK calls outside push adapters.
// - Delivery is best-effort and unconfirmed; callers must never treat a
//   failed push as a session-level error.
type Provider interface {
	Name() string

	// Notify wakes the user's registered device with an event payload.
	Notify(ctx context.Context, userID, event string, data map[string]string) error

	// IsReachable reports whether the user has a registered device token.
	// Used only when no live connection exists, to decide between immediate
	// failure and the degraded pending-notify ring path.
	IsReachable(ctx context.Context, userID string) bool
}

// TokenRepo persists device tokens:
//
//	CREATE TABLE push_tokens (
//	  user_id    TEXT PRIMARY KEY,
//	  token      TEXT NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	)
type TokenRepo interface {
	Get(ctx context.Context, userID string) (token string, found bool, err error)
	Set(ctx context.Context, userID, token string) error
	Delete(ctx context.Context, userID string) error
}

// HTTPProvider posts notifications to a configured push relay endpoint.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	tokens   TokenRepo
	client   *http.Client
}

func NewHTTPProvider(endpoint, apiKey string, tokens TokenRepo, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		tokens:   tokens,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return "http-relay" }

type relayMessage struct {
	Token string            `json:"token"`
	Event string            `json:"event"`
	Data  map[string]string `json:"data,omitempty"`
}

func (p *HTTPProvider) Notify(ctx context.Context, userID, event string, data map[string]string) error {
	token, found, err := p.tokens.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("push: token lookup failed: %w", err)
	}
	if !found {
		return fmt.Errorf("push: no token registered for user")
	}

	body, err := json.Marshal(relayMessage{Token: token, Event: event, Data: data})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: relay request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push: relay returned %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProvider) IsReachable(ctx context.Context, userID string) bool {
	_, found, err := p.tokens.Get(ctx, userID)
	return err == nil && found
}
