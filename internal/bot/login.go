package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Authenticator exchanges account credentials for a fresh access token at
// the auth helper endpoint.
type Authenticator struct {
	authURL string
	client  *http.Client
}

func NewAuthenticator(authURL string) *Authenticator {
	return &Authenticator{
		authURL: authURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Login posts the credentials and returns the new access token.
func (a *Authenticator) Login(ctx context.Context, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", fmt.Errorf("failed to encode login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("login for %s failed with status %d: %s", email, resp.StatusCode, msg)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("login for %s returned an empty access token", email)
	}
	return payload.AccessToken, nil
}
