package loca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	loginEndpoint     = "Login.json"
	logoutEndpoint    = "Logout.json"
	assetsEndpoint    = "Assets.json"
	locationsEndpoint = "UserLocationList.json"
	statusEndpoint    = "StatusList.json"
	groupsEndpoint    = "Groups.json"

	requestTimeout = 30 * time.Second
)

// AuthError signals that a login was rejected or that re-authentication
// failed. It prompts a credential re-entry flow rather than a retry.
type AuthError struct {
	Op     string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("loca %s: %s", e.Op, e.Reason)
}

// Client talks to the Loca REST API for one credential set.
//
// The client tracks a single authenticated flag; every resource fetcher
// lazily triggers one authentication attempt when unauthenticated and
// degrades to an empty result if that attempt fails.
type Client struct {
	baseURL  string
	apiKey   string
	username string
	password string

	http     *http.Client
	ownsHTTP bool

	mu            sync.Mutex
	authenticated bool
	groups        map[int]string
}

// NewClient builds a client. A nil httpClient means the client manages
// its own transport and releases it on Close; a supplied client is
// shared with the host and never closed here.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	owns := false
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
		owns = true
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		username: cfg.Username,
		password: cfg.Password,
		http:     httpClient,
		ownsHTTP: owns,
		groups:   make(map[int]string),
	}
}

// IsAuthenticated reports the current auth state.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) setAuthenticated(value bool) {
	c.mu.Lock()
	c.authenticated = value
	c.mu.Unlock()
}

func sanitize(value string) string {
	if value == "" {
		return "empty"
	}
	return "***"
}

func (c *Client) validateCredentials() bool {
	if c.apiKey == "" || c.username == "" || c.password == "" {
		logrus.Errorf("loca: missing credentials - api key: %s, username: %s, password: %s",
			sanitize(c.apiKey), sanitize(c.username), sanitize(c.password))
		return false
	}
	return true
}

// probeConnectivity issues a best-effort GET against the API host root.
// It exists purely for diagnostic logging and never gates the login.
func (c *Client) probeConnectivity(ctx context.Context) {
	probeURL := strings.TrimSuffix(c.baseURL, "/v1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logrus.Warnf("loca: connectivity probe failed: %v", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	logrus.Debugf("loca: connectivity probe status %d", resp.StatusCode)
}

// Authenticate exchanges the credentials for an authenticated session.
// A login is judged successful only when the response body carries a
// non-empty user object; this endpoint does not use the status field the
// rest of the API does. Never returns an error: any failure leaves the
// client unauthenticated and reports false.
func (c *Client) Authenticate(ctx context.Context) bool {
	if !c.validateCredentials() {
		return false
	}

	c.probeConnectivity(ctx)

	data, err := c.postJSON(ctx, loginEndpoint, map[string]string{
		"key":      c.apiKey,
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		c.logAuthFailure(err)
		return false
	}

	body := asMap(data)
	user := asMap(body["user"])
	if len(user) == 0 {
		if detail := extractErrorMessage(data); detail != "" {
			logrus.Errorf("loca: authentication failed for user %q: %s", c.username, detail)
		} else {
			logrus.Errorf("loca: authentication failed for user %q: no user object in response", c.username)
		}
		c.setAuthenticated(false)
		return false
	}

	c.setAuthenticated(true)
	logrus.Infof("loca: authenticated as %s (id %s)",
		asString(user["username"]), idString(user["userid"]))
	return true
}

// logAuthFailure distinguishes connectivity failures from content
// failures for diagnostics. The caller's contract is unaffected.
func (c *Client) logAuthFailure(err error) {
	logrus.Errorf("loca: authentication request for user %q failed: %v", c.username, err)

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "no such host") || strings.Contains(text, "connection refused"):
		logrus.Error("loca: cannot reach the API server, check connectivity and the base URL")
	case strings.Contains(text, "tls") || strings.Contains(text, "certificate"):
		logrus.Error("loca: TLS error talking to the API server")
	case strings.Contains(text, "timeout") || strings.Contains(text, "deadline"):
		logrus.Error("loca: timeout talking to the API server")
	case strings.Contains(text, "403") || strings.Contains(text, "forbidden"):
		logrus.Error("loca: access forbidden, check the API key permissions")
	case strings.Contains(text, "404"):
		logrus.Error("loca: login endpoint not found, check the base URL")
	}
}

// Logout ends the session. Logging out while unauthenticated is a no-op
// success.
func (c *Client) Logout(ctx context.Context) bool {
	if !c.IsAuthenticated() {
		return true
	}

	data, err := c.postJSON(ctx, logoutEndpoint, map[string]string{"key": c.apiKey})
	if err != nil {
		logrus.Errorf("loca: logout failed: %v", err)
		return false
	}

	if asString(asMap(data)["status"]) != "ok" {
		if detail := extractErrorMessage(data); detail != "" {
			logrus.Errorf("loca: logout rejected: %s", detail)
		} else {
			logrus.Error("loca: logout rejected")
		}
		return false
	}

	c.setAuthenticated(false)
	logrus.Info("loca: logged out")
	return true
}

// Close logs out if needed and releases a self-owned transport. A
// transport supplied by the host is left untouched.
func (c *Client) Close(ctx context.Context) {
	if c.IsAuthenticated() {
		c.Logout(ctx)
	}
	if c.ownsHTTP {
		c.http.CloseIdleConnections()
	}
	c.setAuthenticated(false)
}

// Assets returns all tracked assets, or an empty slice on any failure.
func (c *Client) Assets(ctx context.Context) []map[string]any {
	return c.quiet(ctx, "assets", func(ctx context.Context) ([]map[string]any, error) {
		return c.fetchList(ctx, assetsEndpoint, assetShapes)
	})
}

// StatusList returns the latest status records, or an empty slice on any
// failure.
func (c *Client) StatusList(ctx context.Context) []map[string]any {
	return c.quiet(ctx, "status list", func(ctx context.Context) ([]map[string]any, error) {
		return c.fetchList(ctx, statusEndpoint, statusShapes)
	})
}

// UserLocations returns the user-defined locations, or an empty slice on
// any failure.
func (c *Client) UserLocations(ctx context.Context) []map[string]any {
	return c.quiet(ctx, "user locations", func(ctx context.Context) ([]map[string]any, error) {
		return c.fetchList(ctx, locationsEndpoint, locationShapes)
	})
}

// Groups returns the account's asset groups, or an empty slice on any
// failure.
func (c *Client) Groups(ctx context.Context) []map[string]any {
	return c.quiet(ctx, "groups", func(ctx context.Context) ([]map[string]any, error) {
		return c.fetchList(ctx, groupsEndpoint, groupShapes)
	})
}

// quiet applies the uniform fetcher failure policy: log and return an
// empty slice, never propagate. Fetchers do not retry; the next poll
// cycle is the retry mechanism.
func (c *Client) quiet(ctx context.Context, op string, fn func(context.Context) ([]map[string]any, error)) []map[string]any {
	records, err := fn(ctx)
	if err != nil {
		var shapeErr *ShapeError
		var authErr *AuthError
		switch {
		case errors.As(err, &shapeErr):
			logrus.Errorf("loca: %s returned an unrecognized shape: %v", op, err)
		case errors.As(err, &authErr):
			// Authenticate already logged the specifics.
			logrus.Debugf("loca: skipping %s fetch: %v", op, err)
		default:
			logrus.Errorf("loca: %s fetch failed: %v", op, err)
		}
		return []map[string]any{}
	}
	return records
}

func (c *Client) fetchList(ctx context.Context, endpoint string, shapes []shape) ([]map[string]any, error) {
	if !c.IsAuthenticated() && !c.Authenticate(ctx) {
		return nil, &AuthError{Op: endpoint, Reason: "authentication failed"}
	}

	data, err := c.postJSON(ctx, endpoint, map[string]string{"key": c.apiKey})
	if err != nil {
		return nil, err
	}

	records, err := resolveList(endpoint, data, shapes)
	if err != nil {
		return nil, err
	}

	logrus.Debugf("loca: %s returned %d records", endpoint, len(records))
	return records, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any) (any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("loca %s: http %d: %s",
			endpoint, resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return data, nil
}

// UpdateGroupsCache rebuilds the group cache in full from a fresh fetch.
// A failed fetch yields an empty cache rather than stale labels; only
// cancellation propagates an error.
func (c *Client) UpdateGroupsCache(ctx context.Context) error {
	groups := c.Groups(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	fresh := make(map[int]string, len(groups))
	for _, group := range groups {
		id, ok := group["id"]
		if !ok || id == nil {
			continue
		}
		fresh[asInt(id, 0)] = asString(group["label"])
	}

	c.mu.Lock()
	c.groups = fresh
	c.mu.Unlock()

	logrus.Debugf("loca: groups cache updated with %d groups", len(fresh))
	return nil
}

// GroupName resolves a group id against the cache. Nil and unknown ids
// yield an empty string; the cache is never refreshed from here.
func (c *Client) GroupName(id any) string {
	if id == nil {
		return ""
	}
	parsed, ok := toFloat(id)
	if !ok {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups[int(parsed)]
}
