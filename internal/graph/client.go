// Package graph implements the Microsoft Graph API client used as the
// directory-API collaborator by the assessment pipeline.
package graph

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	// version is used in the User-Agent header.
	version = "0.1.0"

	// maxResponseBodySize limits API response bodies to 50MB to prevent memory exhaustion.
	maxResponseBodySize = 50 * 1024 * 1024

	// maxRedirects limits the number of HTTP redirects followed.
	maxRedirects = 5

	// maxPages caps @odata.nextLink pagination per fetch.
	maxPages = 20
)

const (
	defaultBaseURL   = "https://graph.microsoft.com"
	defaultRateLimit = 10.0 // requests per second
	defaultAuthority = "https://login.microsoftonline.com"

	// maxRetries bounds retry attempts on throttled/busy responses before a
	// fetch is reported failed. Exhausting it is a normal sub-query failure.
	maxRetries = 3

	// defaultRetryDelay is the backoff base when the server sends no Retry-After.
	defaultRetryDelay = 2 * time.Second
)

// Config holds credentials and tuning for the Graph client.
type Config struct {
	// TenantID is the Entra tenant to assess.
	TenantID string
	// ClientID and ClientSecret are the app registration credentials for
	// the OAuth client credentials flow.
	ClientID     string
	ClientSecret string
	// BaseURL overrides the Graph endpoint (tests, sovereign clouds).
	BaseURL string
	// Authority overrides the token endpoint host.
	Authority string
	// RateLimit is the max requests per second.
	RateLimit float64
}

// Client is the Microsoft Graph REST client. It is safe for concurrent use
// by multiple assessment modules.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	rateLimiter *rate.Limiter

	// Granted app roles decoded from the access token (protected by mutex).
	mu    sync.Mutex
	roles map[string]bool
}

// NewClient creates a new Graph API client.
func NewClient(config Config) (*Client, error) {
	if config.TenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("client_id and client_secret are required")
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if strings.HasPrefix(baseURL, "http://") {
		return nil, fmt.Errorf("HTTP is not allowed; use HTTPS for the Graph base URL")
	}

	authority := strings.TrimRight(config.Authority, "/")
	if authority == "" {
		authority = defaultAuthority
	}

	rl := config.RateLimit
	if rl <= 0 {
		rl = defaultRateLimit
	}

	// Build a hardened HTTP client:
	// - TLS 1.2 minimum
	// - Controlled redirect policy (prevent SSRF via open redirects)
	// - Reasonable timeout
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	redirectCount := 0
	checkRedirect := func(req *http.Request, via []*http.Request) error {
		redirectCount++
		if redirectCount > maxRedirects {
			return fmt.Errorf("exceeded maximum redirects (%d)", maxRedirects)
		}
		if len(via) > 0 && req.URL.Host != via[0].URL.Host {
			return fmt.Errorf("redirect to different host %q blocked", req.URL.Host)
		}
		return nil
	}

	httpClient := &http.Client{
		Timeout:       30 * time.Second,
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}

	cc := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", authority, config.TenantID),
		Scopes:       []string{baseURL + "/.default"},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		tokenSource: cc.TokenSource(tokenCtx),
		rateLimiter: rate.NewLimiter(rate.Limit(rl), 1),
	}, nil
}

// readLimitedBody reads at most maxResponseBodySize bytes from the response body.
// Returns an error if the body exceeds the limit.
func readLimitedBody(body io.Reader) ([]byte, error) {
	limited := io.LimitReader(body, maxResponseBodySize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxResponseBodySize {
		return nil, errors.New("response body exceeds maximum allowed size")
	}
	return data, nil
}

// sanitizeErrorBody truncates and sanitizes response bodies for error messages
// to prevent leaking sensitive information in logs.
func sanitizeErrorBody(body []byte) string {
	const maxErrorBodyLen = 256
	s := string(body)
	if len(s) > maxErrorBodyLen {
		s = s[:maxErrorBodyLen] + "...(truncated)"
	}
	return s
}

// retryable reports whether a status code warrants backoff and retry.
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryDelay derives the wait before the next attempt, honoring Retry-After.
func retryDelay(resp *http.Response, attempt int) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := time.ParseDuration(ra + "s"); err == nil && secs > 0 {
				return secs
			}
		}
	}
	return defaultRetryDelay * time.Duration(1<<attempt)
}

// pagedEnvelope is the Graph collection wrapper with pagination link.
type pagedEnvelope struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// FetchRawJSON fetches a Graph endpoint path and returns the raw JSON body.
// Collection responses are followed through @odata.nextLink (bounded) and
// returned as a single merged {"value": [...]} document so callers see one
// payload per sub-query. Throttled responses are retried with backoff a
// bounded number of times.
func (c *Client) FetchRawJSON(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.get(ctx, c.resolve(path))
	if err != nil {
		return nil, err
	}

	var page pagedEnvelope
	if err := json.Unmarshal(body, &page); err != nil || page.Value == nil {
		// Not a collection envelope; return the body as-is.
		return body, nil
	}

	all := page.Value
	pages := 1
	for page.NextLink != "" && pages < maxPages {
		body, err = c.get(ctx, page.NextLink)
		if err != nil {
			return nil, fmt.Errorf("fetching page %d: %w", pages+1, err)
		}
		page = pagedEnvelope{}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decoding page %d: %w", pages+1, err)
		}
		all = append(all, page.Value...)
		pages++
	}

	merged, err := json.Marshal(struct {
		Value []json.RawMessage `json:"value"`
	}{Value: all})
	if err != nil {
		return nil, fmt.Errorf("merging pages: %w", err)
	}
	return merged, nil
}

// resolve turns a relative Graph path into an absolute URL. Absolute URLs
// (nextLink) pass through untouched.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// get performs one authenticated GET with rate limiting and bounded retries.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "TenantPosture/"+version)

		token, err := c.tokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("obtaining access token: %w", err)
		}
		token.SetAuthHeader(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("requesting %s: %w", url, err)
		}

		if retryable(resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d from %s", resp.StatusCode, url)
			if attempt == maxRetries {
				break
			}
			select {
			case <-time.After(retryDelay(resp, attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := readLimitedBody(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("request failed (status %d): %s", resp.StatusCode, sanitizeErrorBody(body))
		}

		body, err := readLimitedBody(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		return body, nil
	}

	return nil, fmt.Errorf("retry budget exhausted: %w", lastErr)
}

// HasPermission reports whether the app token carries the named Graph
// application role (e.g. "User.Read.All"). The roles claim is decoded once
// per token; the token is already trusted since we obtained it directly
// from the authority, so signature verification is not repeated here.
func (c *Client) HasPermission(ctx context.Context, scope string) (bool, error) {
	roles, err := c.grantedRoles(ctx)
	if err != nil {
		return false, err
	}
	return roles[scope], nil
}

// grantedRoles returns the cached set of app roles from the access token.
func (c *Client) grantedRoles(ctx context.Context) (map[string]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.roles != nil {
		return c.roles, nil
	}

	token, err := c.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining access token: %w", err)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token.AccessToken, claims); err != nil {
		return nil, fmt.Errorf("decoding access token: %w", err)
	}

	roles := make(map[string]bool)
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles[s] = true
			}
		}
	}

	c.roles = roles
	return roles, nil
}

// ConfigFromEnv builds a Config from GRAPH_* environment variables. Lookup
// is injected so tests and the CLI's envOrFlag helper can both feed it.
func ConfigFromEnv(getenv func(string) string, rateLimit float64) Config {
	return Config{
		TenantID:     getenv("GRAPH_TENANT_ID"),
		ClientID:     getenv("GRAPH_CLIENT_ID"),
		ClientSecret: getenv("GRAPH_CLIENT_SECRET"),
		BaseURL:      getenv("GRAPH_BASE_URL"),
		Authority:    getenv("GRAPH_AUTHORITY"),
		RateLimit:    rateLimit,
	}
}
