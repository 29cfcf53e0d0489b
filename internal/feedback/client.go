// Package feedback is the bridge's client for the feedback collector: it exchanges
// session tokens for feedback credentials and submits feedback.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nordeck/feedback-application/internal/metrics"
)

const (
	defaultTimeout = 15 * time.Second
	// maxResponseBytes caps credential and acknowledgement bodies.
	maxResponseBytes = 1 << 20
	// maxErrorBodyBytes caps the body kept on a BackendError.
	maxErrorBodyBytes = 1024

	TokenPath    = "/token"
	FeedbackPath = "/feedback"
)

// Payload is the body of a feedback submission.
type Payload struct {
	Rating        int         `json:"rating"`
	RatingComment string      `json:"rating_comment"`
	Metadata      metrics.Bag `json:"metadata"`
}

// Client calls the collector at BaseURL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client whose requests are traced and bounded by timeout.
// A non-positive timeout uses 15s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Exchange trades the session token for a feedback credential (GET /token).
// The response body is the credential.
func (c *Client) Exchange(ctx context.Context, sessionToken string) (string, error) {
	return c.do(ctx, "exchange token", http.MethodGet, TokenPath, sessionToken, nil)
}

// Submit posts rating, comment, and bag with the given credential (POST /feedback)
// and returns the collector's acknowledgement. An empty credential is sent as-is.
func (c *Client) Submit(ctx context.Context, rating int, comment string, bag metrics.Bag, credential string) (string, error) {
	if bag == nil {
		bag = metrics.Bag{}
	}
	raw, err := json.Marshal(Payload{Rating: rating, RatingComment: comment, Metadata: bag})
	if err != nil {
		return "", err
	}
	return c.do(ctx, "submit feedback", http.MethodPost, FeedbackPath, credential, raw)
}

func (c *Client) do(ctx context.Context, op, method, path, bearer string, body []byte) (string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	url := strings.TrimSuffix(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", &BackendError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &TransportError{Op: op, Err: err}
	}
	return string(b), nil
}
