package market

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP/JSON.
type HTTPAPIClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string // Password for Basic Auth
	Timeout   time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetRates fetches rates for one carrier. POST /shipments/getrates
func (c *HTTPAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	var rates []Rate
	status, err := c.call(ctx, http.MethodPost, "/shipments/getrates", req, &rates)
	if err != nil {
		return nil, err
	}
	return &RatesResponse{HTTPStatus: status, CarrierCode: req.CarrierCode, Rates: rates}, nil
}

// CreateLabel buys a label. POST /shipments/createlabel
func (c *HTTPAPIClient) CreateLabel(ctx context.Context, req *LabelRequest) (*LabelResponse, error) {
	var result LabelResponse
	status, err := c.call(ctx, http.MethodPost, "/shipments/createlabel", req, &result)
	if err != nil {
		return nil, err
	}
	result.HTTPStatus = status
	return &result, nil
}

// GetLabel re-fetches an existing label. GET /shipments/label?trackingNumber=
func (c *HTTPAPIClient) GetLabel(ctx context.Context, trackingNumber string) (*LabelResponse, error) {
	var result LabelResponse
	path := "/shipments/label?trackingNumber=" + url.QueryEscape(trackingNumber)
	status, err := c.call(ctx, http.MethodGet, path, nil, &result)
	if err != nil {
		return nil, err
	}
	result.HTTPStatus = status
	return &result, nil
}

// GetTracking retrieves tracking. GET /shipments/tracking?trackingNumber=
func (c *HTTPAPIClient) GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error) {
	var result TrackingResponse
	path := "/shipments/tracking?trackingNumber=" + url.QueryEscape(trackingNumber)
	status, err := c.call(ctx, http.MethodGet, path, nil, &result)
	if err != nil {
		return nil, err
	}
	result.HTTPStatus = status
	return &result, nil
}

// ValidateAddress validates an address. POST /addresses/validate
func (c *HTTPAPIClient) ValidateAddress(ctx context.Context, req *AddressRequest) (*AddressResponse, error) {
	var result AddressResponse
	status, err := c.call(ctx, http.MethodPost, "/addresses/validate", req, &result)
	if err != nil {
		return nil, err
	}
	result.HTTPStatus = status
	return &result, nil
}

// ============================================================================
// HTTP Helpers
// ============================================================================

func (c *HTTPAPIClient) call(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, c.parseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}

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

	// Basic Auth with API key:secret
	auth := base64.StdEncoding.EncodeToString([]byte(c.apiKey + ":" + c.apiSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && (apiErr.Code != "" || apiErr.Description != "") {
		apiErr.HTTPStatus = resp.StatusCode
		return &apiErr
	}

	return &APIError{
		HTTPStatus:  resp.StatusCode,
		Code:        fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Description: string(body),
	}
}

var _ APIClient = (*HTTPAPIClient)(nil)
