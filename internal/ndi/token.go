package ndi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// credentialsSource fetches tokens with a JSON client-credentials request,
// which is what the NDI authentication endpoint expects instead of the
// form-encoded RFC 6749 flow.
type credentialsSource struct {
	ctx          context.Context
	httpClient   *http.Client
	url          string
	clientID     string
	clientSecret string
	now          func() time.Time
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token implements oauth2.TokenSource.
func (s *credentialsSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(tokenRequest{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		GrantType:    "client_credentials",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(ErrAuthFailed, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrAuthFailed, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(ErrAuthFailed, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Wrapf(ErrAuthFailed, "status %d: %s", resp.StatusCode, truncate(raw))
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, errors.Wrapf(ErrAuthFailed, "decode token: %v", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.Wrap(ErrAuthFailed, "empty access_token")
	}
	tok := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: "Bearer"}
	// Without expires_in the token is reused until the process restarts.
	if tr.ExpiresIn > 0 {
		tok.Expiry = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
