package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

// The secret must be valid base32.
const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func newLoginServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/login":
			var req map[string]string
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			if req["clientcode"] != "C123" || req["password"] != "pw" {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"status": false, "message": "invalid credentials",
				})
				return
			}
			ok, _ := totp.ValidateCustom(req["totp"], testTOTPSecret, time.Now(), totp.ValidateOpts{
				Period: 30, Skew: 1, Digits: 6,
			})
			if !ok {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"status": false, "message": "invalid totp",
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data": map[string]string{
					"authToken":    "auth-1",
					"refreshToken": "refresh-1",
					"feedToken":    "feed-1",
				},
			})
		case "/auth/v1/renewToken":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data": map[string]string{
					"authToken": "auth-2",
					"feedToken": "feed-2",
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSession_LoginWithTOTP(t *testing.T) {
	srv := newLoginServer(t)
	defer srv.Close()

	s, err := NewSession(SessionConfig{
		BaseURL:    srv.URL,
		APIKey:     "key",
		ClientCode: "C123",
		Password:   "pw",
		TOTPSecret: testTOTPSecret,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if err := s.Login(); err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.AuthToken() != "auth-1" {
		t.Errorf("expected auth-1, got %s", s.AuthToken())
	}
	if s.FeedToken() != "feed-1" {
		t.Errorf("expected feed-1, got %s", s.FeedToken())
	}

	hdr := s.WSHeaders()
	if hdr.Get("Authorization") != "Bearer auth-1" {
		t.Errorf("unexpected Authorization header: %s", hdr.Get("Authorization"))
	}
	if hdr.Get("x-feed-token") != "feed-1" {
		t.Errorf("unexpected feed token header: %s", hdr.Get("x-feed-token"))
	}
	if hdr.Get("x-client-code") != "C123" {
		t.Errorf("unexpected client code header: %s", hdr.Get("x-client-code"))
	}
}

func TestSession_LoginRejected(t *testing.T) {
	srv := newLoginServer(t)
	defer srv.Close()

	s, err := NewSession(SessionConfig{
		BaseURL:    srv.URL,
		APIKey:     "key",
		ClientCode: "C123",
		Password:   "wrong",
		TOTPSecret: testTOTPSecret,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if err := s.Login(); err == nil {
		t.Fatal("expected login error with wrong password")
	}
	if s.AuthToken() != "" {
		t.Errorf("tokens must stay empty after failed login, got %s", s.AuthToken())
	}
}

func TestSession_RenewUsesRefreshToken(t *testing.T) {
	srv := newLoginServer(t)
	defer srv.Close()

	s, err := NewSession(SessionConfig{
		BaseURL:    srv.URL,
		APIKey:     "key",
		ClientCode: "C123",
		Password:   "pw",
		TOTPSecret: testTOTPSecret,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Login(); err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := s.Renew(); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if s.AuthToken() != "auth-2" {
		t.Errorf("expected renewed token auth-2, got %s", s.AuthToken())
	}
	if s.FeedToken() != "feed-2" {
		t.Errorf("expected renewed feed token feed-2, got %s", s.FeedToken())
	}
}

func TestNewSession_RequiresConfig(t *testing.T) {
	if _, err := NewSession(SessionConfig{APIKey: "k", ClientCode: "c"}); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := NewSession(SessionConfig{BaseURL: "http://x", ClientCode: "c"}); err == nil {
		t.Error("expected error without API key")
	}
}
