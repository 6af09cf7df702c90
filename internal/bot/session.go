package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	errs "github.com/chatmux/chatmux/internal/errors"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/113.0.0.0 Safari/537.36"

// Session is one authenticated upstream client for one account. The HTTP
// client is pooled and shared by every call on this account.
type Session struct {
	email      string
	baseURL    string
	captchaURL string
	client     *http.Client
	logger     *slog.Logger

	mu            sync.Mutex
	accessToken   string
	puid          string
	supportModels []string
}

// NewSession validates the access token and builds the upstream client.
// Tokens that are malformed or already expired refuse construction.
func NewSession(email, accessToken, puid, baseURL, captchaURL string, logger *slog.Logger) (*Session, error) {
	if err := checkAccessToken(accessToken); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Session{
		email:      email,
		baseURL:    baseURL,
		captchaURL: captchaURL,
		client: &http.Client{
			Transport: &http.Transport{
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:      logger.With("component", "bot", "email", email),
		accessToken: accessToken,
		puid:        puid,
	}, nil
}

// Email returns the account this session serves.
func (s *Session) Email() string {
	return s.email
}

// PUID returns the affinity cookie, possibly captured by Models.
func (s *Session) PUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puid
}

// AccessToken returns the current token.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// Update swaps in a refreshed token or puid. Empty values are ignored.
func (s *Session) Update(accessToken, puid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if accessToken != "" {
		s.accessToken = accessToken
	}
	if puid != "" {
		s.puid = puid
	}
}

// Close releases idle upstream connections.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

// newRequest builds an upstream request with the session headers.
func (s *Session) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	s.mu.Lock()
	token, puid := s.accessToken, s.puid
	s.mu.Unlock()

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if puid != "" {
		req.Header.Set("PUID", puid)
	}
	return req, nil
}

// checkResponse turns a non-2xx upstream response into an OpenAIError
// carrying the status code and body.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return errs.NewOpenAIError(resp.StatusCode, string(body))
}

// Models fetches the slugs this account may use and caches them. The
// upstream sets a _puid cookie on plus accounts; it is captured here.
func (s *Session) Models(ctx context.Context) ([]string, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "models?history_and_training_disabled=false", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var payload struct {
		Models []struct {
			Slug string `json:"slug"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}

	slugs := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		slugs = append(slugs, m.Slug)
	}

	s.mu.Lock()
	s.supportModels = slugs
	for _, c := range resp.Cookies() {
		if c.Name == "_puid" && c.Value != "" {
			s.puid = c.Value
		}
	}
	s.mu.Unlock()

	return slugs, nil
}

// checkModel runs the models precheck once per session and rejects slugs
// the account cannot serve.
func (s *Session) checkModel(ctx context.Context, model string) error {
	s.mu.Lock()
	cached := s.supportModels
	s.mu.Unlock()

	if len(cached) == 0 {
		var err error
		cached, err = s.Models(ctx)
		if err != nil {
			return err
		}
	}
	if model == "" {
		return nil
	}
	for _, slug := range cached {
		if slug == model {
			return nil
		}
	}
	return errs.NewBotError(errs.KindUnsupportedModel, fmt.Sprintf("unsupported_model:%s", model))
}
