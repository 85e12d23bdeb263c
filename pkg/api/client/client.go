package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the version lifecycle API for operator tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Deployment mirrors the API deployment payload.
type Deployment struct {
	ID            string     `json:"id"`
	TenantID      int64      `json:"tenant_id"`
	ApplicationID int64      `json:"application_id"`
	VersionID     int64      `json:"version_id"`
	EnvironmentID int64      `json:"environment_id"`
	Status        string     `json:"status"`
	DeployedAt    *time.Time `json:"deployed_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
	Notes         string     `json:"notes"`
	CreatedBy     int64      `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	ModifiedAt    time.Time  `json:"modified_at"`
}

// DeploymentEvent is one entry of a deployment's audit trail.
type DeploymentEvent struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateDeploymentInput requests a Pending deployment.
type CreateDeploymentInput struct {
	ApplicationID int64  `json:"application_id"`
	VersionID     int64  `json:"version_id"`
	EnvironmentID int64  `json:"environment_id"`
	Notes         string `json:"notes,omitempty"`
}

// CreateDeployment records a Pending deployment.
func (c *Client) CreateDeployment(ctx context.Context, token string, input CreateDeploymentInput) (Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodPost, "/deployments", input, token, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// GetDeployment fetches one deployment by id.
func (c *Client) GetDeployment(ctx context.Context, token, deploymentID string) (Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodGet, deploymentPath(deploymentID, ""), nil, token, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// ListDeploymentsInput narrows a deployment listing. Zero fields are ignored.
type ListDeploymentsInput struct {
	ApplicationID int64
	EnvironmentID int64
	Limit         int
}

// ListDeployments returns recent deployments, newest first.
func (c *Client) ListDeployments(ctx context.Context, token string, input ListDeploymentsInput) ([]Deployment, error) {
	query := url.Values{}
	if input.ApplicationID > 0 {
		query.Set("application_id", strconv.FormatInt(input.ApplicationID, 10))
	}
	if input.EnvironmentID > 0 {
		query.Set("environment_id", strconv.FormatInt(input.EnvironmentID, 10))
	}
	if input.Limit > 0 {
		query.Set("limit", strconv.Itoa(input.Limit))
	}
	path := "/deployments"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var deployments []Deployment
	if err := c.do(ctx, http.MethodGet, path, nil, token, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// ConfirmDeployment moves a Pending deployment to InProgress. A nil notes
// keeps the stored notes.
func (c *Client) ConfirmDeployment(ctx context.Context, token, deploymentID string, notes *string) (Deployment, error) {
	body := map[string]*string{"notes": notes}
	var deployment Deployment
	if err := c.do(ctx, http.MethodPost, deploymentPath(deploymentID, "confirm"), body, token, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// UpdateStatusInput requests a status transition.
type UpdateStatusInput struct {
	Status     string  `json:"status"`
	Notes      *string `json:"notes,omitempty"`
	DurationMs *int64  `json:"duration_ms,omitempty"`
}

// UpdateDeploymentStatus applies a status transition.
func (c *Client) UpdateDeploymentStatus(ctx context.Context, token, deploymentID string, input UpdateStatusInput) (Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodPost, deploymentPath(deploymentID, "status"), input, token, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// PromoteDeployment starts the next environment's deployment of a successful one.
func (c *Client) PromoteDeployment(ctx context.Context, token, deploymentID string, targetEnvironmentID int64, notes string) (Deployment, error) {
	body := map[string]any{"target_environment_id": targetEnvironmentID}
	if strings.TrimSpace(notes) != "" {
		body["notes"] = notes
	}
	var deployment Deployment
	if err := c.do(ctx, http.MethodPost, deploymentPath(deploymentID, "promote"), body, token, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// DeploymentHistory returns the deployment's audit trail.
func (c *Client) DeploymentHistory(ctx context.Context, token, deploymentID string) ([]DeploymentEvent, error) {
	var events []DeploymentEvent
	if err := c.do(ctx, http.MethodGet, deploymentPath(deploymentID, "history"), nil, token, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteDeployment soft-deletes a deployment.
func (c *Client) DeleteDeployment(ctx context.Context, token, deploymentID string) error {
	return c.do(ctx, http.MethodDelete, deploymentPath(deploymentID, ""), nil, token, nil)
}

func deploymentPath(deploymentID, action string) string {
	path := "/deployments/" + url.PathEscape(strings.TrimSpace(deploymentID))
	if action != "" {
		path += "/" + action
	}
	return path
}

// Webhook mirrors a webhook subscription. The secret is never returned.
type Webhook struct {
	ID            int64     `json:"id"`
	ApplicationID int64     `json:"application_id"`
	URL           string    `json:"url"`
	Events        string    `json:"events"`
	IsActive      bool      `json:"is_active"`
	MaxRetries    int       `json:"max_retries"`
	CreatedAt     time.Time `json:"created_at"`
}

// RegisterWebhookInput creates a webhook subscription.
type RegisterWebhookInput struct {
	ApplicationID int64  `json:"application_id"`
	URL           string `json:"url"`
	Secret        string `json:"secret"`
	Events        string `json:"events"`
	MaxRetries    *int   `json:"max_retries,omitempty"`
}

// RegisterWebhook subscribes a URL to an application's deployment events.
func (c *Client) RegisterWebhook(ctx context.Context, token string, input RegisterWebhookInput) (Webhook, error) {
	var hook Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks", input, token, &hook); err != nil {
		return Webhook{}, err
	}
	return hook, nil
}

// DeactivateWebhook stops deliveries to a webhook.
func (c *Client) DeactivateWebhook(ctx context.Context, token string, webhookID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/webhooks/%d", webhookID), nil, token, nil)
}

// Delivery is one row of a webhook's delivery ledger.
type Delivery struct {
	ID                 int64      `json:"id"`
	WebhookID          int64      `json:"webhook_id"`
	EventType          string     `json:"event_type"`
	DeliveryStatus     string     `json:"delivery_status"`
	ResponseStatusCode *int       `json:"response_status_code,omitempty"`
	ResponseBody       string     `json:"response_body,omitempty"`
	RetryCount         int        `json:"retry_count"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	NextRetryAt        *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// ListDeliveries returns a webhook's most recent deliveries.
func (c *Client) ListDeliveries(ctx context.Context, token string, webhookID int64, limit int) ([]Delivery, error) {
	path := fmt.Sprintf("/webhooks/%d/deliveries", webhookID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var deliveries []Delivery
	if err := c.do(ctx, http.MethodGet, path, nil, token, &deliveries); err != nil {
		return nil, err
	}
	return deliveries, nil
}

// Redeliver makes an immediate attempt for an unsent delivery.
func (c *Client) Redeliver(ctx context.Context, token string, deliveryID int64) (Delivery, error) {
	var delivery Delivery
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/webhook-events/%d/redeliver", deliveryID), nil, token, &delivery); err != nil {
		return Delivery{}, err
	}
	return delivery, nil
}

// Health reports the API health summary.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var payload map[string]any
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, "", &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
