package discount

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateOrder books a shipment. POST /orders
func (c *HTTPAPIClient) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	var result OrderResponse
	if err := c.call(ctx, http.MethodPost, "/orders", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTracking retrieves tracking nodes. GET /tracking/{tracking_number}
func (c *HTTPAPIClient) GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error) {
	var result TrackingResponse
	path := "/tracking/" + url.PathEscape(trackingNumber)
	if err := c.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PrintLabels retrieves labels for a batch. POST /labels/print
func (c *HTTPAPIClient) PrintLabels(ctx context.Context, req *LabelRequest) (*LabelResponse, error) {
	var result LabelResponse
	if err := c.call(ctx, http.MethodPost, "/labels/print", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckCoverage checks serviceability. POST /coverage
func (c *HTTPAPIClient) CheckCoverage(ctx context.Context, req *CoverageRequest) (*CoverageResponse, error) {
	var result CoverageResponse
	if err := c.call(ctx, http.MethodPost, "/coverage", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateAddress validates an address. POST /address/validate
func (c *HTTPAPIClient) ValidateAddress(ctx context.Context, req *AddressRequest) (*AddressResponse, error) {
	var result AddressResponse
	if err := c.call(ctx, http.MethodPost, "/address/validate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// call performs the request and decodes the envelope into out. Non-2xx
// statuses become *APIError; 2xx responses are decoded as-is so the
// envelope code can be inspected by the caller.
func (c *HTTPAPIClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("User-Agent", "shiprouter/1.0")

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var env Envelope
	if err := json.Unmarshal(body, &env); err == nil && (env.Code != 0 || env.Message != "") {
		return &APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	return &APIError{
		HTTPStatus: resp.StatusCode,
		Code:       -1,
		Message:    string(body),
	}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
