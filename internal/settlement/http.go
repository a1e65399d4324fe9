package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fastprodman/starledger/internal/config"
	"github.com/fastprodman/starledger/internal/domain/purchase"
)

const (
	apiKeyHeader = "X-Api-Key"
	maxBodyBytes = 1 << 20
)

var _ Provider = (*HTTPClient)(nil)

// HTTPClient implements Provider over JSON/HTTP.
type HTTPClient struct {
	base   *url.URL
	apiKey string
	hc     *http.Client
}

func NewHTTPClient(cfg config.SettlementConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse settlement base url: %w", err)
	}

	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("settlement base url %q must be absolute", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPClient{
		base:   base,
		apiKey: cfg.APIKey,
		hc:     &http.Client{Timeout: timeout},
	}, nil
}

func (c *HTTPClient) Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	var resp InitiateResponse

	raw, err := c.post(ctx, "/v1/purchases", req, &resp)
	if err != nil {
		return InitiateResponse{}, err
	}

	resp.Raw = raw

	return resp, nil
}

func (c *HTTPClient) Confirm(ctx context.Context, externalTxID string) (ConfirmResponse, error) {
	var resp ConfirmResponse

	raw, err := c.post(ctx, "/v1/purchases/"+url.PathEscape(externalTxID)+"/confirm", struct{}{}, &resp)
	if err != nil {
		return ConfirmResponse{}, err
	}

	resp.Raw = raw

	return resp, nil
}

// post sends body and decodes the answer into out. 2xx and 4xx answers carry
// a definite result; 429, 5xx and transport failures are provider errors.
func (c *HTTPClient) post(ctx context.Context, path string, body, out any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal settlement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build settlement request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	//nolint:errcheck
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, unavailable(fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Code: purchase.ErrCodeRateLimited, Message: "settlement provider rate limited", Raw: raw}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &Error{
			Code:    purchase.ErrCodeServiceUnavailable,
			Message: fmt.Sprintf("settlement provider returned %d", resp.StatusCode),
			Raw:     raw,
		}
	}

	err = json.Unmarshal(raw, out)
	if err != nil {
		return nil, &Error{Code: purchase.ErrCodeTemporary, Message: "unreadable settlement response", Raw: raw, Cause: err}
	}

	return raw, nil
}
