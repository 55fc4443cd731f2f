// Package passapi is the console's client for the pass API: search,
// unredeemed listing, redeem, refund, history, and point-of-sale.
package passapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/clubdesk/internal/model"
)

// Config holds pass API client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Retries bounds how many times an idempotent GET is re-sent after a
	// transport failure or 5xx response. Redeem and refund are never retried.
	Retries   uint64
	RetryBase time.Duration
	// ClientID is sent as X-Client-ID and comes back as the origin of the
	// events this client caused on the server's live feed.
	ClientID string
}

// Client talks JSON to the pass API with a staff bearer token.
type Client struct {
	mu         sync.RWMutex
	cfg        Config
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a new pass API client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the staff bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.cfg.Token = token
	c.mu.Unlock()
}

// ClientID returns the id sent with every request.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.ClientID
}

// HasToken reports whether a bearer token is configured.
func (c *Client) HasToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Token != ""
}

type passesResponse struct {
	Passes []model.Pass `json:"passes"`
}

type historyResponse struct {
	Logs []model.RedemptionLogEntry `json:"logs"`
}

type loginRequest struct {
	Staff string `json:"staff"`
	PIN   string `json:"pin"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// RedeemOptions tunes a redeem call.
type RedeemOptions struct {
	Force    bool
	Location string
}

type redeemRequest struct {
	Force    bool   `json:"force,omitempty"`
	Location string `json:"location,omitempty"`
}

// Login exchanges a staff name and PIN for a bearer token and keeps it.
func (c *Client) Login(ctx context.Context, staff, pin string) (string, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/api/login", loginRequest{Staff: staff, PIN: pin}, &resp, KindUnknown)
	if err != nil {
		return "", err
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// Search returns passes with remaining uses bought by email.
func (c *Client) Search(ctx context.Context, email string) ([]model.Pass, error) {
	var resp passesResponse
	path := "/passes/search?email=" + url.QueryEscape(email)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, KindSearch); err != nil {
		return nil, err
	}
	return withRemaining(resp.Passes), nil
}

// Unredeemed returns every pass with remaining uses, most recent purchase first.
func (c *Client) Unredeemed(ctx context.Context) ([]model.Pass, error) {
	var resp passesResponse
	if err := c.do(ctx, http.MethodGet, "/passes/unredeemed", nil, &resp, KindSearch); err != nil {
		return nil, err
	}
	return withRemaining(resp.Passes), nil
}

// Redeem consumes one use of the pass. Force overrides the same-day guard.
func (c *Client) Redeem(ctx context.Context, passID string, opts RedeemOptions) (*model.RedeemResult, error) {
	var resp model.RedeemResult
	path := "/passes/" + url.PathEscape(passID) + "/redeem"
	body := redeemRequest{Force: opts.Force, Location: opts.Location}
	if err := c.do(ctx, http.MethodPost, path, body, &resp, KindUnknown); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refund voids the whole pass.
func (c *Client) Refund(ctx context.Context, passID string) error {
	path := "/passes/" + url.PathEscape(passID) + "/refund"
	err := c.do(ctx, http.MethodPost, path, nil, nil, KindRefund)
	if apiErr, ok := err.(*Error); ok && apiErr.Kind != KindNetwork {
		apiErr.Kind = KindRefund
	}
	return err
}

// History returns the redemption log of a pass.
func (c *Client) History(ctx context.Context, passID string) ([]model.RedemptionLogEntry, error) {
	var resp historyResponse
	path := "/passes/" + url.PathEscape(passID) + "/history"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, KindHistory); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// Sell records a new pass bought at the front desk.
func (c *Client) Sell(ctx context.Context, req model.SellPassRequest) (*model.Pass, error) {
	var p model.Pass
	if err := c.do(ctx, http.MethodPost, "/passes", req, &p, KindUnknown); err != nil {
		return nil, err
	}
	return &p, nil
}

// do sends one request and decodes the response into out. Failures are
// returned as *Error; fallback is the Kind used when the server does not name
// one. GETs are retried on transport errors and 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, in, out any, fallback Kind) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	c.mu.RLock()
	base := c.cfg.BaseURL
	token := c.cfg.Token
	retries := c.cfg.Retries
	retryBase := c.cfg.RetryBase
	clientID := c.cfg.ClientID
	c.mu.RUnlock()

	if method != http.MethodGet {
		retries = 0
	}
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(retryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, base+path, body)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", uuid.NewString())
		req.Header.Set("X-Client-ID", clientID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(AsError(err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := decodeError(resp, fallback)
			if resp.StatusCode >= 500 {
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: fallback, Message: "invalid response from server", Status: resp.StatusCode, Err: err}
		}
		return nil
	})
	if err != nil {
		return AsError(err)
	}
	return nil
}

func decodeError(resp *http.Response, fallback Kind) *Error {
	apiErr := &Error{Kind: fallback, Status: resp.StatusCode}

	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil {
		apiErr.Message = fmt.Sprintf("server returned %d", resp.StatusCode)
		return apiErr
	}

	apiErr.Message = body.Error
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("server returned %d", resp.StatusCode)
	}
	if body.ErrorCode != "" {
		if k := ParseKind(body.ErrorCode); k != KindUnknown || fallback == KindUnknown {
			apiErr.Kind = k
		}
	}
	apiErr.Details = body.PassDetails
	return apiErr
}

func withRemaining(passes []model.Pass) []model.Pass {
	out := passes[:0]
	for _, p := range passes {
		if p.RemainingUses > 0 {
			out = append(out, p)
		}
	}
	if out == nil {
		return []model.Pass{}
	}
	return out
}
