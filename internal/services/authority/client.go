// Package authority is the HTTP client for the campus issuing authority:
// the backing store that mints tokens, owns check-in state, and serves
// registration photos. Every call has a bounded timeout and resolves to a
// definite result; the caller decides what a failure means (fallback
// synthesis on the issuance side, "unreachable" on the validation side).
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"gatepass/internal/status"
	"gatepass/models"
	"gatepass/utils"
)

type Config struct {
	BaseURL string
	APIKey  string

	IssueTimeout     time.Duration
	ReconcileTimeout time.Duration
	PhotoTimeout     time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	breaker *utils.CircuitBreaker

	issueTimeout     time.Duration
	reconcileTimeout time.Duration
	photoTimeout     time.Duration
}

func New(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("authority.New: missing base URL")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("authority.New: url.Parse: %w", err)
	}

	return &Client{
		baseURL:          cfg.BaseURL,
		apiKey:           cfg.APIKey,
		hc:               &http.Client{},
		breaker:          utils.NewCircuitBreaker("issuing-authority"),
		issueTimeout:     orDefault(cfg.IssueTimeout, 8*time.Second),
		reconcileTimeout: orDefault(cfg.ReconcileTimeout, 6*time.Second),
		photoTimeout:     orDefault(cfg.PhotoTimeout, 4*time.Second),
	}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.New().String())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req
}

// IssueReply is the authority's answer to a mint request. The token may be
// in either wire dialect; the caller re-decodes it locally.
type IssueReply struct {
	Token       string `json:"token"`
	IsCheckedIn bool   `json:"isCheckedIn"`
}

// IssueToken asks the authority to mint a token for a registration.
func (c *Client) IssueToken(ctx context.Context, eventID, registrationID string) (*IssueReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.issueTimeout)
	defer cancel()

	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return c.issueToken(ctx, eventID, registrationID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*IssueReply), nil
}

func (c *Client) issueToken(ctx context.Context, eventID, registrationID string) (*IssueReply, error) {
	b, err := json.Marshal(map[string]string{
		"eventId":        eventID,
		"registrationId": registrationID,
	})
	if err != nil {
		return nil, fmt.Errorf("issueToken: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/tickets/issue", bytes.NewBuffer(b))
	if err != nil {
		return nil, fmt.Errorf("issueToken: http.NewRequestWithContext: %w", err)
	}
	req = c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("issueToken: hc.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("issueToken: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply IssueReply
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("issueToken: json.Decode: %w", err)
	}
	if reply.Token == "" {
		return nil, errors.New("issueToken: authority returned empty token")
	}

	return &reply, nil
}

// ReconcileReply is the store's authoritative answer to a check-in proposal.
type ReconcileReply struct {
	Valid            bool              `json:"valid"`
	Success          bool              `json:"success"`
	AlreadyCheckedIn bool              `json:"alreadyCheckedIn"`
	CheckedInAt      *time.Time        `json:"checkedInAt,omitempty"`
	Holder           *models.Holder    `json:"holder,omitempty"`
	Event            *models.EventInfo `json:"event,omitempty"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
}

// AttemptCheckIn submits a scanned token for reconciliation. A transport
// failure maps to ErrAuthorityUnavailable so the orchestrator can keep the
// locally rendered data and mark the result unresolved.
func (c *Client) AttemptCheckIn(ctx context.Context, tokenText, operator string) (*ReconcileReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.reconcileTimeout)
	defer cancel()

	b, err := json.Marshal(map[string]string{
		"token":    tokenText,
		"operator": operator,
	})
	if err != nil {
		return nil, fmt.Errorf("attemptCheckIn: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/checkin/attempt", bytes.NewBuffer(b))
	if err != nil {
		return nil, fmt.Errorf("attemptCheckIn: http.NewRequestWithContext: %w", err)
	}
	req = c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, status.ErrAuthorityUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, status.ErrAuthorityUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("attemptCheckIn: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply ReconcileReply
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("attemptCheckIn: json.Decode: %w", err)
	}

	return &reply, nil
}

// LookupPhoto fetches the authoritative profile photo URL for a
// registration. Best-effort only; callers degrade to "no photo".
func (c *Client) LookupPhoto(ctx context.Context, registrationID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.photoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/registrations/%s/photo", c.baseURL, url.PathEscape(registrationID)), nil)
	if err != nil {
		return "", fmt.Errorf("lookupPhoto: http.NewRequestWithContext: %w", err)
	}
	req = c.setHeaders(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookupPhoto: hc.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("lookupPhoto: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply struct {
		PhotoURL string `json:"photoUrl"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return "", fmt.Errorf("lookupPhoto: json.Decode: %w", err)
	}

	return reply.PhotoURL, nil
}
