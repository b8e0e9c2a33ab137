// Package identity resolves requester identities against the external
// account service. The verifier is a read-only collaborator on the transfer
// path: it runs before any lock is taken and its failures are authorization
// failures, never transient engine errors.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/skillsbank/transaction-service/internal/domain"
)

// Client calls the account service over HTTP. It implements
// domain.IdentityVerifier.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a verifier client. timeout bounds each attempt; zero
// means 2s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type resolveRequest struct {
	Email string `json:"email"`
}

type resolveResponse struct {
	AccountID string `json:"account_id"`
}

// Resolve returns the account id owned by email, or
// domain.ErrIdentityUnknown when the account service does not know the email.
// Transport errors are retried once before giving up.
func (c *Client) Resolve(ctx context.Context, email string) (uuid.UUID, error) {
	body, err := json.Marshal(resolveRequest{Email: email})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode resolve request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		id, err := c.resolveOnce(ctx, body)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, domain.ErrIdentityUnknown) || ctx.Err() != nil {
			return uuid.Nil, err
		}
		lastErr = err
	}
	return uuid.Nil, fmt.Errorf("account service unreachable: %w", lastErr)
}

func (c *Client) resolveOnce(ctx context.Context, body []byte) (uuid.UUID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/account/get_account", bytes.NewReader(body))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to build resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve request failed: %w", err)
	}
	defer resp.Body.Close()

	// Any non-success answer means "unknown identity". The account service's
	// 404 and its 5xx are indistinguishable on purpose: an engine-side retry
	// storm against a broken verifier gains nothing, and the caller gets the
	// same Unauthorized either way.
	if resp.StatusCode != http.StatusOK {
		return uuid.Nil, domain.ErrIdentityUnknown
	}

	var parsed resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return uuid.Nil, fmt.Errorf("failed to decode resolve response: %w", err)
	}

	id, err := uuid.Parse(parsed.AccountID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("account service returned invalid account_id: %w", err)
	}
	return id, nil
}

var _ domain.IdentityVerifier = (*Client)(nil)
