package komodo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/komodo-checkout/internal/logging"
	"go.uber.org/zap"
)

// IdempotencyHeader carries the checkout idempotency key alongside the
// payload field.
const IdempotencyHeader = "Idempotency-Key"

type tokenKey struct{}

// WithToken attaches the caller's access token to ctx. The client forwards
// it as a Bearer token on every request made with that context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token set by WithToken.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// Client talks to the Komodo REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger).Named("komodo"),
	}
}

// CreateOrder submits an order. The server debits the buyer's wallet in
// the same transaction.
func (c *Client) CreateOrder(ctx context.Context, payload OrderPayload) (*Order, error) {
	var order Order
	headers := map[string]string{}
	if payload.IdempotencyKey != "" {
		headers[IdempotencyHeader] = payload.IdempotencyKey
	}
	if err := c.do(ctx, http.MethodPost, "/orders/", payload, &order, headers); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetMyWallet returns the wallet of the token's owner.
func (c *Client) GetMyWallet(ctx context.Context) (*Wallet, error) {
	var wallet Wallet
	if err := c.do(ctx, http.MethodGet, "/wallet/me/", nil, &wallet, nil); err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, "/auth/profile/", nil, &profile, nil); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	body := map[string]string{"username": username, "password": password}
	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/token/", body, &pair, nil); err != nil {
		return nil, err
	}
	return &pair, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	body := map[string]string{"refresh": refreshToken}
	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/token/refresh/", body, &pair, nil); err != nil {
		return nil, err
	}
	return &pair, nil
}

func (c *Client) GetPublicStand(ctx context.Context, standID int64) (*Stand, error) {
	var stand Stand
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/public/stands/%d/", standID), nil, &stand, nil); err != nil {
		return nil, err
	}
	return &stand, nil
}

// GetStandProducts lists the products of a stand that are in stock. Both
// plain arrays and paginated {"results": [...]} bodies are accepted.
func (c *Client) GetStandProducts(ctx context.Context, standID int64) ([]Product, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/public/stands/%d/products/", standID), nil, &raw, nil); err != nil {
		return nil, err
	}
	return decodeList[Product](raw)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := TokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeList[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []T{}, nil
	}

	if trimmed[0] == '[' {
		var list []T
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to decode list: %w", err)
		}
		return list, nil
	}

	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}
	if page.Results == nil {
		return []T{}, nil
	}
	return page.Results, nil
}
