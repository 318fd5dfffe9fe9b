package watsonx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/MrWong99/inferbridge/pkg/provider/llm"
)

// iamGrantType is the IBM Cloud IAM grant for exchanging an API key.
const iamGrantType = "urn:ibm:params:oauth:grant-type:apikey"

// iamTokenSource exchanges an IBM Cloud API key for a bearer token and caches
// it until it expires. The exchange runs under the caller's context, so a
// cancelled chat also cancels a pending token request.
type iamTokenSource struct {
	client   *http.Client
	tokenURL string
	apiKey   string

	mu  sync.Mutex
	tok *oauth2.Token
}

// iamTokenResponse is the IAM identity/token response body.
type iamTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Expiration  int64  `json:"expiration"`
}

// Token returns the cached token, exchanging the API key for a new one when
// none is cached or the cached one expired. Concurrent callers share one
// exchange.
func (s *iamTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok.Valid() {
		return s.tok, nil
	}
	tok, err := s.exchange(ctx)
	if err != nil {
		return nil, err
	}
	s.tok = tok
	return tok, nil
}

func (s *iamTokenSource) exchange(ctx context.Context) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type": {iamGrantType},
		"apikey":     {s.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("watsonx: build iam request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("watsonx: iam token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("watsonx: iam token request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		// IAM answers 400 for an unknown API key and 401 for a revoked one.
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %w", llm.ErrAuthentication, err)
		}
		return nil, err
	}

	var tr iamTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("watsonx: decode iam token: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("watsonx: iam token response has no access_token")
	}

	tok := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: "Bearer"}
	switch {
	case tr.Expiration > 0:
		tok.Expiry = time.Unix(tr.Expiration, 0)
	case tr.ExpiresIn > 0:
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}
