package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
)

// SessionConfig configures the market-data provider session.
type SessionConfig struct {
	BaseURL    string // provider REST root, e.g. "https://api.provider.example"
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string // base32 secret for two-factor login

	Timeout time.Duration // default: 7s
}

// Session manages an authenticated session with the market-data provider.
// Login generates a fresh TOTP code, exchanges credentials for tokens, and
// stores them for the WebSocket handshake and token renewal.
type Session struct {
	cfg        SessionConfig
	httpClient *http.Client

	mu           sync.RWMutex
	authToken    string
	refreshToken string
	feedToken    string

	// OnExpiry is called when the provider rejects the session token.
	OnExpiry func()
}

type loginResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthToken    string `json:"authToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	} `json:"data"`
}

// NewSession creates a provider session client. No network calls are made
// until Login.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.ClientCode == "" {
		return nil, errors.New("session: base URL, API key, and client code are required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Session{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Login generates a fresh TOTP code and exchanges credentials for session
// tokens. Safe to call again to refresh an expired session.
func (s *Session) Login() error {
	code, err := totp.GenerateCode(s.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("session: totp generation: %w", err)
	}

	body, _ := json.Marshal(map[string]string{
		"clientcode": s.cfg.ClientCode,
		"password":   s.cfg.Password,
		"totp":       code,
	})

	req, err := http.NewRequest(http.MethodPost, s.cfg.BaseURL+"/auth/v1/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session: login request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return fmt.Errorf("session: login response: %w", err)
	}
	if !lr.Status {
		return fmt.Errorf("session: login rejected: %s", lr.Message)
	}
	if lr.Data.AuthToken == "" || lr.Data.FeedToken == "" {
		return errors.New("session: login returned empty tokens")
	}

	s.mu.Lock()
	s.authToken = lr.Data.AuthToken
	s.refreshToken = lr.Data.RefreshToken
	s.feedToken = lr.Data.FeedToken
	s.mu.Unlock()

	log.Printf("[session] logged in as %s", s.cfg.ClientCode)
	return nil
}

// Renew exchanges the refresh token for a fresh auth token without a full
// TOTP login. Falls back to Login when no refresh token is held.
func (s *Session) Renew() error {
	s.mu.RLock()
	rt := s.refreshToken
	s.mu.RUnlock()
	if rt == "" {
		return s.Login()
	}

	body, _ := json.Marshal(map[string]string{"refreshToken": rt})
	req, err := http.NewRequest(http.MethodPost, s.cfg.BaseURL+"/auth/v1/renewToken", bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session: renew request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		if s.OnExpiry != nil {
			s.OnExpiry()
		}
		return s.Login()
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return fmt.Errorf("session: renew response: %w", err)
	}
	if !lr.Status {
		return s.Login()
	}

	s.mu.Lock()
	if lr.Data.AuthToken != "" {
		s.authToken = lr.Data.AuthToken
	}
	if lr.Data.FeedToken != "" {
		s.feedToken = lr.Data.FeedToken
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", s.cfg.APIKey)
	s.mu.RLock()
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}
	s.mu.RUnlock()
}

// AuthToken returns the current auth token.
func (s *Session) AuthToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authToken
}

// FeedToken returns the current feed token for the WebSocket handshake.
func (s *Session) FeedToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feedToken
}

// WSHeaders returns the headers for the market-data WebSocket handshake.
func (s *Session) WSHeaders() http.Header {
	h := http.Header{}
	s.mu.RLock()
	h.Set("Authorization", "Bearer "+s.authToken)
	h.Set("x-feed-token", s.feedToken)
	s.mu.RUnlock()
	h.Set("x-api-key", s.cfg.APIKey)
	h.Set("x-client-code", s.cfg.ClientCode)
	return h
}
