// Package notify delivers fire-and-forget settlement notifications to the
// workflow webhook and the analytics sink. Delivery failures never propagate
// to callers: the settlement outcome is already persisted by the time these
// clients run, and at-most-once is the delivery guarantee.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tipbot-hq/settler/pkg/logger"
	"github.com/tipbot-hq/settler/pkg/models"
)

// WorkflowPayload is the denormalized record snapshot posted to the
// workflow webhook, plus the webhook's API key field.
type WorkflowPayload struct {
	APIKey          string `json:"apiKey"`
	EventID         string `json:"eventId,omitempty"`
	Kind            string `json:"kind"`
	SenderID        string `json:"senderId,omitempty"`
	RecipientID     string `json:"recipientId,omitempty"`
	WalletAddress   string `json:"walletAddress,omitempty"`
	Handle          string `json:"handle,omitempty"`
	DisplayName     string `json:"displayName,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Message         string `json:"message,omitempty"`
	TokenAddress    string `json:"tokenAddress,omitempty"`
	ChainID         int    `json:"chainId,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	DateAdded       string `json:"dateAdded"`
}

// WorkflowClient posts settlement snapshots to the workflow webhook.
type WorkflowClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

// NewWorkflowClient creates a new workflow webhook client
func NewWorkflowClient(endpoint, apiKey string, log logger.Logger) *WorkflowClient {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &WorkflowClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: createHTTPClient(),
		logger:     log,
	}
}

// Send posts the record snapshot to the webhook.
func (c *WorkflowClient) Send(ctx context.Context, rec *models.Record) error {
	if c.endpoint == "" {
		return nil
	}
	payload := WorkflowPayload{
		APIKey:          c.apiKey,
		EventID:         rec.EventID,
		Kind:            string(rec.Kind),
		SenderID:        rec.SenderID,
		RecipientID:     rec.RecipientID,
		WalletAddress:   rec.WalletAddress,
		Handle:          rec.Handle,
		DisplayName:     rec.DisplayName,
		Amount:          rec.Amount,
		Message:         rec.Message,
		TokenAddress:    rec.TokenAddress,
		ChainID:         rec.ChainID,
		TransactionHash: rec.TransactionHash,
		DateAdded:       rec.DateAdded.UTC().Format(time.RFC3339),
	}
	return post(ctx, c.httpClient, c.logger, c.endpoint, payload)
}

// AnalyticsEvent is the event envelope posted to the analytics sink.
type AnalyticsEvent struct {
	UserID     string                 `json:"userId"`
	Event      string                 `json:"event"`
	Key        string                 `json:"key,omitempty"`
	Properties map[string]interface{} `json:"properties"`
}

// AnalyticsClient posts settlement events to the analytics sink.
type AnalyticsClient struct {
	endpoint   string
	key        string
	httpClient *http.Client
	logger     logger.Logger
}

// NewAnalyticsClient creates a new analytics client
func NewAnalyticsClient(endpoint, key string, log logger.Logger) *AnalyticsClient {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &AnalyticsClient{
		endpoint:   endpoint,
		key:        key,
		httpClient: createHTTPClient(),
		logger:     log,
	}
}

// Track posts an analytics event with a properties bag mirroring the snapshot.
func (c *AnalyticsClient) Track(ctx context.Context, userID, event string, properties map[string]interface{}) error {
	if c.endpoint == "" {
		return nil
	}
	payload := AnalyticsEvent{
		UserID:     userID,
		Event:      event,
		Key:        c.key,
		Properties: properties,
	}
	return post(ctx, c.httpClient, c.logger, c.endpoint, payload)
}

// Dispatcher fans a confirmed settlement out to both downstream sinks.
type Dispatcher struct {
	workflow  *WorkflowClient
	analytics *AnalyticsClient
	logger    logger.Logger
}

// NewDispatcher creates a dispatcher over the two notification clients.
func NewDispatcher(workflow *WorkflowClient, analytics *AnalyticsClient, log logger.Logger) *Dispatcher {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Dispatcher{
		workflow:  workflow,
		analytics: analytics,
		logger:    log,
	}
}

// SettlementConfirmed notifies downstream systems of a freshly confirmed
// settlement. Errors are logged and swallowed; they must never downgrade the
// already-persisted outcome or change the caller's result.
func (d *Dispatcher) SettlementConfirmed(ctx context.Context, rec *models.Record) {
	if d == nil {
		return
	}
	if d.workflow != nil {
		if err := d.workflow.Send(ctx, rec); err != nil {
			d.logger.ErrorWithKind(rec.Kind, "Workflow notification failed for event %s: %v", rec.EventID, err)
		}
	}
	if d.analytics != nil {
		properties := map[string]interface{}{
			"kind":            string(rec.Kind),
			"eventId":         rec.EventID,
			"senderId":        rec.SenderID,
			"walletAddress":   rec.WalletAddress,
			"amount":          rec.Amount,
			"tokenAddress":    rec.TokenAddress,
			"chainId":         rec.ChainID,
			"transactionHash": rec.TransactionHash,
		}
		userID := rec.RecipientID
		if userID == "" {
			userID = rec.SenderID
		}
		if err := d.analytics.Track(ctx, userID, string(rec.Kind)+"_settled", properties); err != nil {
			d.logger.ErrorWithKind(rec.Kind, "Analytics notification failed for event %s: %v", rec.EventID, err)
		}
	}
}

func post(ctx context.Context, client *http.Client, log logger.Logger, endpoint string, payload interface{}) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Error("Failed to close response body: %v", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
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
