package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crmsync/internal/constants"
	"crmsync/pkg/metrics"
)

// CredentialProvider supplies the bearer token for record store calls.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// TokenFetch acquires a fresh token and reports how long it stays valid.
type TokenFetch func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// CachedProvider owns the mutable token state behind a mutex with a
// monotonic expiry clock. Refresh is single-flight: a caller that arrives
// while another holds the lock re-checks expiry before fetching again.
type CachedProvider struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
	margin time.Duration
	fetch  TokenFetch
	now    func() time.Time
}

func NewCachedProvider(fetch TokenFetch, margin time.Duration) *CachedProvider {
	if margin <= 0 {
		margin = constants.DefaultTokenMargin
	}
	return &CachedProvider{
		fetch:  fetch,
		margin: margin,
		now:    time.Now,
	}
}

func (p *CachedProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Add(p.margin).Before(p.expiry) {
		return p.token, nil
	}

	if err := p.refreshLocked(ctx); err != nil {
		return "", err
	}
	return p.token, nil
}

func (p *CachedProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(ctx)
}

func (p *CachedProvider) refreshLocked(ctx context.Context) error {
	token, expiresIn, err := p.fetch(ctx)
	if err != nil {
		metrics.CredentialRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("credential fetch failed: %w", err)
	}

	p.token = token
	p.expiry = p.now().Add(expiresIn)
	metrics.CredentialRefreshTotal.WithLabelValues("ok").Inc()
	return nil
}

// StaticProvider returns a fixed token. Used in tests and in deployments
// where an external agent rotates the token out of band.
type StaticProvider struct {
	token string
}

func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

func (p *StaticProvider) Token(ctx context.Context) (string, error) {
	return p.token, nil
}

func (p *StaticProvider) Refresh(ctx context.Context) error {
	return nil
}

// ClientCredentialsFetch builds a TokenFetch against a client-credentials
// token endpoint. The credential service itself is an external collaborator;
// only this boundary call lives here.
func ClientCredentialsFetch(tokenURL, clientID, clientSecret string, httpClient *http.Client) TokenFetch {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.DefaultStoreTimeout}
	}

	return func(ctx context.Context) (string, time.Duration, error) {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", clientID)
		form.Set("client_secret", clientSecret)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return "", 0, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := httpClient.Do(req)
		if err != nil {
			return "", 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
			return "", 0, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}

		var body struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", 0, fmt.Errorf("failed to decode token response: %w", err)
		}
		if body.AccessToken == "" {
			return "", 0, fmt.Errorf("token endpoint returned empty token")
		}

		return body.AccessToken, time.Duration(body.ExpiresIn) * time.Second, nil
	}
}
