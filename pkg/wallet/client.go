// Package wallet provides a client for the custodial wallet provider API.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tipbot-hq/settler/pkg/logger"
)

// ErrNonRetryable marks the provider's designated permanent-rejection
// response. Callers must not resubmit an operation that failed with it.
var ErrNonRetryable = errors.New("wallet: operation permanently rejected")

// SubmitParams carries a transfer instruction to the wallet provider.
type SubmitParams struct {
	SenderID     string   `json:"userId"`
	ChainID      int      `json:"chainId"`
	To           []string `json:"to"`
	Value        []string `json:"value"`
	Data         []string `json:"data,omitempty"`
	DelegateCall bool     `json:"delegateCall,omitempty"`
}

// TxResult mirrors the provider response for both submission and status
// lookups: either a final transaction hash, an operation handle that still
// has to resolve, or neither.
type TxResult struct {
	TxHash     string `json:"txHash"`
	UserOpHash string `json:"userOpHash"`
}

// Confirmable reports whether the result carries anything a caller could
// later confirm.
func (r *TxResult) Confirmable() bool {
	return r != nil && (r.TxHash != "" || r.UserOpHash != "")
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client talks to the wallet provider. Token handling is internal; callers
// never see auth concerns.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient creates a new wallet provider client
func NewClient(endpoint, apiKey string, log logger.Logger) *Client {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: createHTTPClient(),
		logger:     log,
	}
}

// Submit issues a transfer instruction and returns the provider's handle on
// the operation. A TxResult with an empty TxHash and a populated UserOpHash
// means the operation is accepted but not yet final.
func (c *Client) Submit(ctx context.Context, params SubmitParams) (*TxResult, error) {
	if len(params.To) == 0 {
		return nil, fmt.Errorf("submit requires at least one destination address")
	}
	if len(params.To) != len(params.Value) {
		return nil, fmt.Errorf("submit requires one value per destination, got %d/%d", len(params.Value), len(params.To))
	}
	return c.post(ctx, "/v1/transfer", params)
}

// Resolve looks up a previously submitted operation by its userOpHash.
func (c *Client) Resolve(ctx context.Context, userOpHash string) (*TxResult, error) {
	if userOpHash == "" {
		return nil, fmt.Errorf("resolve requires a userOpHash")
	}
	body := struct {
		UserOpHash string `json:"userOpHash"`
	}{UserOpHash: userOpHash}
	return c.post(ctx, "/v1/transfer/status", body)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*TxResult, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet request failed: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Error("Failed to close response body: %v", closeErr)
		}
	}()

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	// The provider signals "this operation will never complete" with 422;
	// everything else non-2xx is treated as transient.
	if resp.StatusCode == http.StatusUnprocessableEntity {
		var errResp errorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrNonRetryable, errResp.Error)
		}
		return nil, fmt.Errorf("%w: status %d", ErrNonRetryable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var result TxResult
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v, body: %s", err, string(bodyBytes))
	}
	return &result, nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
