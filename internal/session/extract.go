// Package session decodes the conferencing identity credential and holds the
// per-conference feedback credential.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSessionToken is wrapped by DecodeError when the credential decodes but carries no context.matrix.token.
var ErrNoSessionToken = errors.New("session: credential has no context.matrix.token")

// DecodeError is returned when the identity credential cannot yield a session token.
// It is the one bridge error that propagates to the host.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("session: decode identity credential: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IdentityClaims is the payload of the identity credential issued for a conference.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Room    string           `json:"room,omitempty"`
	Context *IdentityContext `json:"context,omitempty"`
}

// IdentityContext is the "context" claim.
type IdentityContext struct {
	User   *UserContext   `json:"user,omitempty"`
	Matrix *MatrixContext `json:"matrix,omitempty"`
}

// UserContext describes the conference user.
type UserContext struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// MatrixContext carries the Matrix OpenID token the collector validates.
type MatrixContext struct {
	Token      string `json:"token"`
	RoomID     string `json:"room_id,omitempty"`
	ServerName string `json:"server_name,omitempty"`
}

// DecodeIdentity reads the payload segment of the credential. The header and signature
// are not inspected; the signature is checked upstream by the collector's validation.
func DecodeIdentity(credential string) (*IdentityClaims, error) {
	if credential == "" {
		return nil, &DecodeError{Err: errors.New("credential is empty")}
	}
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return nil, &DecodeError{Err: fmt.Errorf("credential has %d segments, want 3", len(parts))}
	}
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("payload: %w", err)}
	}
	claims := &IdentityClaims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("payload: %w", err)}
	}
	return claims, nil
}

// ExtractSessionToken returns context.matrix.token from the identity credential.
func ExtractSessionToken(credential string) (string, error) {
	claims, err := DecodeIdentity(credential)
	if err != nil {
		return "", err
	}
	if claims.Context == nil || claims.Context.Matrix == nil || claims.Context.Matrix.Token == "" {
		return "", &DecodeError{Err: ErrNoSessionToken}
	}
	return claims.Context.Matrix.Token, nil
}
