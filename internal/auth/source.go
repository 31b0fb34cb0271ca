package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// HTTPTokenSource acquires a bearer credential from a token endpoint using
// a client-credentials exchange. The interactive parts of the upstream login
// flow live behind this endpoint and are opaque here.
type HTTPTokenSource struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	nowFunc func() time.Time
}

// NewHTTPTokenSource creates a token source for the given endpoint.
func NewHTTPTokenSource(tokenURL, clientID, clientSecret string) *HTTPTokenSource {
	return &HTTPTokenSource{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		nowFunc:      time.Now,
	}
}

// Acquire exchanges client credentials for a bearer token.
func (s *HTTPTokenSource) Acquire(ctx context.Context) (Credential, error) {
	payload, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     s.ClientID,
		"client_secret": s.ClientSecret,
	})
	if err != nil {
		return Credential{}, eris.Wrap(err, "auth: marshal token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return Credential{}, eris.Wrap(err, "auth: create token request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return Credential{}, eris.Wrap(err, "auth: token request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return Credential{}, eris.Errorf("auth: token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credential{}, eris.Wrap(err, "auth: decode token response")
	}
	if body.AccessToken == "" {
		return Credential{}, eris.New("auth: token response missing access_token")
	}
	if body.ExpiresIn <= 0 {
		body.ExpiresIn = 3600
	}

	now := time.Now
	if s.nowFunc != nil {
		now = s.nowFunc
	}
	return Credential{
		Token:     body.AccessToken,
		ExpiresAt: now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}
