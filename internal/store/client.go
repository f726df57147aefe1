package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"crmsync/internal/config"
	"crmsync/internal/constants"
	"crmsync/internal/logger"
	"crmsync/pkg/errors"
	"crmsync/pkg/metrics"
)

// HTTPClient talks to the external record store. The store is rate-limited
// and eventually consistent, so the client self-throttles with a token
// bucket instead of burning 429 retries, and every failure comes back
// pre-classified with a retry verdict.
type HTTPClient struct {
	baseURL    string
	apiVersion string
	client     *http.Client
	creds      CredentialProvider
	limiter    *rate.Limiter
	logger     logger.Logger
}

func NewHTTPClient(cfg config.StoreConfig, creds CredentialProvider, log logger.Logger) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultStoreTimeout
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}

	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: timeout},
		creds:      creds,
		limiter:    limiter,
		logger:     log,
	}
}

func (c *HTTPClient) QueryByKey(ctx context.Context, entity, keyField, keyValue string) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("%s/query?field=%s&value=%s",
		c.entityURL(entity), url.QueryEscape(keyField), url.QueryEscape(keyValue))

	body, err := c.do(ctx, http.MethodGet, "query", entity, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Records []map[string]interface{} `json:"records"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Transient(errors.CodeStoreStatus, "failed to decode query response").WithCause(err)
	}

	if len(result.Records) == 0 {
		return nil, nil
	}
	return result.Records[0], nil
}

func (c *HTTPClient) Create(ctx context.Context, entity string, fields map[string]interface{}) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "create", entity, c.entityURL(entity), fields)
	if err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	// Some store versions return an empty create body; the synchronizer
	// falls back to a re-query when ID comes back blank.
	if len(body) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return "", errors.Transient(errors.CodeStoreStatus, "failed to decode create response").WithCause(err)
		}
	}
	return result.ID, nil
}

func (c *HTTPClient) Update(ctx context.Context, entity, id string, fields map[string]interface{}) error {
	endpoint := fmt.Sprintf("%s/%s", c.entityURL(entity), url.PathEscape(id))
	_, err := c.do(ctx, http.MethodPatch, "update", entity, endpoint, fields)
	return err
}

func (c *HTTPClient) UpsertByKey(ctx context.Context, entity, keyField, keyValue string, fields map[string]interface{}) error {
	endpoint := fmt.Sprintf("%s/%s/%s",
		c.entityURL(entity), url.PathEscape(keyField), url.PathEscape(keyValue))
	_, err := c.do(ctx, http.MethodPatch, "upsert", entity, endpoint, fields)
	return err
}

func (c *HTTPClient) entityURL(entity string) string {
	return fmt.Sprintf("%s/api/%s/%s", c.baseURL, c.apiVersion, entity)
}

func (c *HTTPClient) do(ctx context.Context, method, operation, entity, endpoint string, payload map[string]interface{}) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Classify(0, err)
		}
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, errors.Classify(0, err)
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Permanent(errors.CodeMalformedPayload, "failed to encode request body").WithCause(err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, errors.Classify(0, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveStoreRequest(operation, entity, time.Since(start))

	if err != nil {
		metrics.StoreRequestsTotal.WithLabelValues(operation, entity, "network_error").Inc()
		return nil, errors.Classify(0, err)
	}
	defer resp.Body.Close()

	metrics.StoreRequestsTotal.WithLabelValues(operation, entity, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusUnauthorized {
		c.refreshCredentialsAsync(entity)
	}

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		return nil, errors.Classify(resp.StatusCode, fmt.Errorf("%s %s failed", method, endpoint))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Classify(0, err)
	}
	return body, nil
}

// refreshCredentialsAsync fires a best-effort token refresh after a 401.
// The 401 itself is classified retryable, so by the time the requeued copy
// comes around the cache usually holds a fresh token. Refresh failure is
// logged, not propagated.
func (c *HTTPClient) refreshCredentialsAsync(entity string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultStoreTimeout)
		defer cancel()

		if err := c.creds.Refresh(ctx); err != nil {
			c.logger.Warnw("Credential refresh after 401 failed",
				"error", err,
				"entity", entity,
			)
		}
	}()
}
