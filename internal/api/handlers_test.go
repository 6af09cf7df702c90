package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/chatmux/chatmux/internal/bot"
	"github.com/chatmux/chatmux/internal/pool"
)

type stubMux struct {
	text   string
	event  *bot.Event
	reason string

	gotOpenID  string
	gotNewChat bool
	gotModel   string
}

func (m *stubMux) Prompt(_ context.Context, _, model, openid string, newChat bool) (string, string, error) {
	m.gotModel = model
	m.gotOpenID = openid
	m.gotNewChat = newChat
	return m.text, m.reason, nil
}

func (m *stubMux) APIRequest(_ context.Context, _ []bot.Message, model string) (*bot.Event, string, error) {
	m.gotModel = model
	return m.event, m.reason, nil
}

type stubAdmin struct {
	email      string
	ciphertext string
}

func (a *stubAdmin) AddAccount(_ context.Context, email, passwordCiphertext string) error {
	a.email = email
	a.ciphertext = passwordCiphertext
	return nil
}

type stubCipher struct{}

func (stubCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

type stubChecker struct{ checked []string }

func (c *stubChecker) RequestCheck(email string) { c.checked = append(c.checked, email) }

func newTestRouter(mux *stubMux, admin *stubAdmin, checker *stubChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(mux, admin, stubCipher{}, checker, logger)
	r := gin.New()
	RegisterRoutes(r, h, "edge-token", nil, logger)
	return r
}

func doRequest(r *gin.Engine, method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPing_NoAuthRequired(t *testing.T) {
	r := newTestRouter(&stubMux{}, &stubAdmin{}, &stubChecker{})
	w := doRequest(r, http.MethodGet, "/ping", "", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "pong" {
		t.Errorf("expected 200 pong, got %d %q", w.Code, w.Body.String())
	}
}

func TestAuth_SchemeAndToken(t *testing.T) {
	r := newTestRouter(&stubMux{}, &stubAdmin{}, &stubChecker{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/prompt", strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad scheme: expected 401, got %d", w.Code)
	}

	w = doRequest(r, http.MethodPost, "/v1/chat/prompt", "wrong-token", `{"content":"hi"}`, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("bad token: expected 403, got %d", w.Code)
	}
}

func TestCompletions_HappyPath(t *testing.T) {
	mux := &stubMux{event: &bot.Event{Message: "hello from upstream", FinishDetails: "stop"}}
	r := newTestRouter(mux, &stubAdmin{}, &stubChecker{})

	body := `{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(r, http.MethodPost, "/v1/chat/completions", "edge-token", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Object  string `json:"object"`
		Choices []struct {
			Message struct {
				Role    string  `json:"role"`
				Content *string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Object != "chat.completion" || len(resp.Choices) != 1 {
		t.Fatalf("unexpected completion shape: %s", w.Body.String())
	}
	if resp.Choices[0].Message.Content == nil || *resp.Choices[0].Message.Content != "hello from upstream" {
		t.Errorf("assistant text not preserved: %s", w.Body.String())
	}
}

func TestCompletions_SchedulerRejection(t *testing.T) {
	mux := &stubMux{reason: pool.ReasonTooManyRequests}
	r := newTestRouter(mux, &stubAdmin{}, &stubChecker{})

	body := `{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(r, http.MethodPost, "/v1/chat/completions", "edge-token", body, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var resp struct {
		Detail string `json:"detail"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Detail != "No response found" {
		t.Errorf("unexpected detail %q", resp.Detail)
	}
}

func TestPrompt_ContentNegotiation(t *testing.T) {
	mux := &stubMux{text: "plain answer"}
	r := newTestRouter(mux, &stubAdmin{}, &stubChecker{})

	body := `{"content":"hi","openid":"u1","new_chat":true}`
	w := doRequest(r, http.MethodPost, "/v1/chat/prompt", "edge-token", body, nil)
	if w.Code != http.StatusOK || w.Body.String() != "plain answer" {
		t.Errorf("expected raw text, got %d %q", w.Code, w.Body.String())
	}
	if mux.gotOpenID != "u1" || !mux.gotNewChat {
		t.Errorf("prompt fields not forwarded: openid=%q new_chat=%v", mux.gotOpenID, mux.gotNewChat)
	}

	w = doRequest(r, http.MethodPost, "/v1/chat/prompt", "edge-token", body, map[string]string{"Accept": "application/json"})
	if w.Code != http.StatusOK || w.Body.String() != `"plain answer"` {
		t.Errorf("expected JSON string, got %d %q", w.Code, w.Body.String())
	}
}

func TestPrompt_EmptyResultIs404(t *testing.T) {
	r := newTestRouter(&stubMux{}, &stubAdmin{}, &stubChecker{})
	w := doRequest(r, http.MethodPost, "/v1/chat/prompt", "edge-token", `{"content":"hi"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for empty result, got %d", w.Code)
	}
}

func TestAddBot_EncryptsAndTriggersCheck(t *testing.T) {
	admin := &stubAdmin{}
	checker := &stubChecker{}
	r := newTestRouter(&stubMux{}, admin, checker)

	body := `{"email":"new@x","password":"pw"}`
	w := doRequest(r, http.MethodPost, "/admin/add_bot", "edge-token", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if admin.email != "new@x" || admin.ciphertext != "enc:pw" {
		t.Errorf("credential not stored encrypted: %+v", admin)
	}
	if len(checker.checked) != 1 || checker.checked[0] != "new@x" {
		t.Errorf("health check not triggered: %v", checker.checked)
	}
}

func TestCompletionsOptions_CORS(t *testing.T) {
	r := newTestRouter(&stubMux{}, &stubAdmin{}, &stubChecker{})
	w := doRequest(r, http.MethodOptions, "/v1/chat/completions", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}

func TestHostCheck_RejectsUnknownHost(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(&stubMux{}, &stubAdmin{}, stubCipher{}, &stubChecker{}, logger)
	r := gin.New()
	RegisterRoutes(r, h, "edge-token", []string{"api.example.com"}, logger)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Host = "evil.example.com"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for unknown host, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Host = "api.example.com"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for allowed host, got %d", w.Code)
	}
}
