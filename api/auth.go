package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// AuthTokenEnv names the environment variable holding the shared token.
const AuthTokenEnv = "SPEARMAN_AUTH_TOKEN"

// Authenticator checks the token a connection presents in its first message.
// An empty token disables authentication.
type Authenticator struct {
	token string
}

// NewAuthenticator creates an Authenticator for token.
func NewAuthenticator(token string) *Authenticator {
	return &Authenticator{token: token}
}

// NewAuthenticatorFromEnv creates an Authenticator from SPEARMAN_AUTH_TOKEN,
// falling back to fallback when the variable is unset.
func NewAuthenticatorFromEnv(fallback string) *Authenticator {
	if token := os.Getenv(AuthTokenEnv); token != "" {
		return NewAuthenticator(token)
	}
	return NewAuthenticator(fallback)
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	return a != nil && a.token != ""
}

// ValidateToken checks if the provided token matches the configured token.
// Uses constant-time comparison to prevent timing attacks.
func (a *Authenticator) ValidateToken(providedToken string) error {
	if !a.IsEnabled() {
		return nil
	}
	if providedToken == "" {
		return ErrAuthRequired
	}
	if subtle.ConstantTimeCompare([]byte(a.token), []byte(providedToken)) != 1 {
		return ErrAuthTokenMismatch
	}
	return nil
}

// GenerateToken generates a cryptographically secure random token.
func GenerateToken() (string, error) {
	buf := make([]byte, 32) // 256 bits
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthMessage represents an authentication handshake message.
// This is the first message a client must send when auth is enabled.
type AuthMessage struct {
	Type  string `json:"type"`  // Must be "auth"
	Token string `json:"token"` // The authentication token
}

// AuthResponse is sent back to the client after auth attempt.
type AuthResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// serverHandshake reads the client's AuthMessage and answers it.
func (a *Authenticator) serverHandshake(rw io.ReadWriter, limit int) error {
	raw, err := ReadMessageLimit(rw, limit)
	if err != nil {
		return err
	}

	var msg AuthMessage
	authErr := ErrAuthRequired
	if json.Unmarshal(raw, &msg) == nil && msg.Type == "auth" {
		authErr = a.ValidateToken(msg.Token)
	}

	resp := AuthResponse{Success: authErr == nil}
	if authErr != nil {
		resp.Error = authErr.Error()
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := WriteMessage(rw, out); err != nil {
		return err
	}
	return authErr
}

// clientHandshake sends token and waits for the server's verdict.
func clientHandshake(rw io.ReadWriter, token string) error {
	out, err := json.Marshal(AuthMessage{Type: "auth", Token: token})
	if err != nil {
		return err
	}
	if err := WriteMessage(rw, out); err != nil {
		return err
	}

	raw, err := ReadMessage(rw)
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	var resp AuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("failed to parse auth response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrAuthFailed, resp.Error)
	}
	return nil
}
