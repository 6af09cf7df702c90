package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticator_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("bad login body: %v", err)
		}
		if creds.Email != "a@x" || creds.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "fresh-jwt"})
	}))
	defer srv.Close()

	auth := NewAuthenticator(srv.URL)

	token, err := auth.Login(context.Background(), "a@x", "pw")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if token != "fresh-jwt" {
		t.Errorf("expected fresh-jwt, got %q", token)
	}

	if _, err := auth.Login(context.Background(), "a@x", "wrong"); err == nil {
		t.Error("expected error for bad credentials")
	}
}

func TestAuthenticator_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	if _, err := NewAuthenticator(srv.URL).Login(context.Background(), "a@x", "pw"); err == nil {
		t.Error("expected error for empty access token")
	}
}
