package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrInvalidUser is returned when the user-verification service does not recognise the token's user.
var ErrInvalidUser = errors.New("user is not valid")

// UserValidator resolves a Matrix OpenID token to a verified user id.
type UserValidator interface {
	Validate(ctx context.Context, openIDToken string) (userID string, err error)
}

type validationRequest struct {
	MatrixServerName string `json:"matrix_server_name"`
	Token            string `json:"token"`
}

type validationResponse struct {
	Results struct {
		User bool `json:"user"`
	} `json:"results"`
	UserID string `json:"user_id"`
}

// OIDCValidator calls the user-verification service at URL.
type OIDCValidator struct {
	URL        string
	ServerName string
	AuthToken  string
	HTTPClient *http.Client
}

var _ UserValidator = (*OIDCValidator)(nil)

// NewOIDCValidator returns a validator for the Matrix homeserver serverName that authenticates
// to the service at url with authToken.
func NewOIDCValidator(url, serverName, authToken string, timeout time.Duration) *OIDCValidator {
	return &OIDCValidator{
		URL:        url,
		ServerName: serverName,
		AuthToken:  authToken,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Validate posts the token to the service. It returns ErrInvalidUser when the service
// answers but rejects the user, and a wrapped error when the service itself fails.
func (v *OIDCValidator) Validate(ctx context.Context, openIDToken string) (string, error) {
	body, err := json.Marshal(validationRequest{MatrixServerName: v.ServerName, Token: openIDToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("auth: user verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.AuthToken)

	httpClient := v.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: user verification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("auth: user verification returned %s", resp.Status)
	}

	var out validationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("auth: decode user verification response: %w", err)
	}
	if !out.Results.User || out.UserID == "" {
		return "", ErrInvalidUser
	}
	return out.UserID, nil
}
