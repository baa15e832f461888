package loca

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testConfig(baseURL string) Config {
	return Config{
		APIKey:   "test-key",
		Username: "test-user",
		Password: "test-pass",
		BaseURL:  baseURL,
	}
}

func TestClientFlow(t *testing.T) {
	var loginRequests int
	groupsBody := `{"groups":[{"id":248,"label":"Autos"},{"id":276,"label":"Motoren"}]}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			// Connectivity probe, diagnostics only.
			w.WriteHeader(http.StatusOK)
			return
		case "/Login.json":
			loginRequests++
			if r.Method != http.MethodPost {
				t.Fatalf("expected POST to /Login.json, got %s", r.Method)
			}
			body, _ := io.ReadAll(r.Body)
			for _, field := range []string{`"key":"test-key"`, `"username":"test-user"`, `"password":"test-pass"`} {
				if !strings.Contains(string(body), field) {
					t.Fatalf("expected %s in login body, got %s", field, string(body))
				}
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"user":{"userid":42,"username":"test-user"}}`)
			return
		case "/Groups.json":
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"key":"test-key"`) {
				t.Fatalf("expected api key in groups body, got %s", string(body))
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, groupsBody)
			return
		case "/StatusList.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"StatusList":[{"Asset":{"id":12345,"label":"Camper","group":248},"History":{"latitude":52.3676,"longitude":4.9041,"time":1640995200,"charge":85}}]}`)
			return
		case "/Logout.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
			return
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	ctx := context.Background()

	if err := client.UpdateGroupsCache(ctx); err != nil {
		t.Fatalf("UpdateGroupsCache: %v", err)
	}
	if !client.IsAuthenticated() {
		t.Fatal("expected lazy authentication during the groups fetch")
	}
	if loginRequests != 1 {
		t.Fatalf("expected 1 login request, got %d", loginRequests)
	}
	if got := client.GroupName(float64(248)); got != "Autos" {
		t.Fatalf("GroupName(248) = %q, want Autos", got)
	}
	if got := client.GroupName(float64(276)); got != "Motoren" {
		t.Fatalf("GroupName(276) = %q, want Motoren", got)
	}
	if got := client.GroupName(nil); got != "" {
		t.Fatalf("GroupName(nil) = %q, want empty", got)
	}
	if got := client.GroupName(float64(999)); got != "" {
		t.Fatalf("GroupName(999) = %q, want empty", got)
	}

	records := client.StatusList(ctx)
	if len(records) != 1 {
		t.Fatalf("expected 1 status record, got %d", len(records))
	}
	device := client.ParseStatusDevice(records[0])
	if device.DeviceID != "12345" {
		t.Fatalf("device id = %q, want 12345", device.DeviceID)
	}
	if device.Asset.GroupName != "Autos" {
		t.Fatalf("group name = %q, want Autos", device.Asset.GroupName)
	}
	if device.BatteryLevel == nil || *device.BatteryLevel != 85 {
		t.Fatalf("battery = %v, want 85", device.BatteryLevel)
	}
	if device.LastSeen == nil || device.LastSeen.UTC().Format("2006-01-02T15:04:05Z") != "2022-01-01T00:00:00Z" {
		t.Fatalf("last seen = %v, want 2022-01-01T00:00:00Z", device.LastSeen)
	}
	if loginRequests != 1 {
		t.Fatalf("expected the session to be reused, got %d logins", loginRequests)
	}

	// A later refresh replaces the cache in full: groups absent from
	// the fresh fetch must not linger.
	groupsBody = `{"groups":[{"id":300,"label":"Boten"}]}`
	if err := client.UpdateGroupsCache(ctx); err != nil {
		t.Fatalf("UpdateGroupsCache refresh: %v", err)
	}
	if got := client.GroupName(float64(248)); got != "" {
		t.Fatalf("stale group survived refresh: %q", got)
	}
	if got := client.GroupName(float64(300)); got != "Boten" {
		t.Fatalf("GroupName(300) = %q, want Boten", got)
	}

	if !client.Logout(ctx) {
		t.Fatal("expected logout to succeed")
	}
	if client.IsAuthenticated() {
		t.Fatal("expected client to be unauthenticated after logout")
	}
}

func TestAuthenticateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"error","message":"invalid api key"}`)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	if client.Authenticate(context.Background()) {
		t.Fatal("expected authentication to fail without a user object")
	}
	if client.IsAuthenticated() {
		t.Fatal("expected client to remain unauthenticated")
	}
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Password = ""
	client := NewClient(cfg, server.Client())

	if client.Authenticate(context.Background()) {
		t.Fatal("expected authentication to fail with missing credentials")
	}
	if requests != 0 {
		t.Fatalf("expected no network traffic, got %d requests", requests)
	}
}

func TestFetchersEmptyOnAuthFailure(t *testing.T) {
	var loginRequests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/Login.json":
			loginRequests++
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"error":"account locked"}`)
		default:
			t.Fatalf("unexpected fetch of %s while unauthenticated", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	ctx := context.Background()

	// Failed fetches degrade to empty results and stay idempotent; each
	// call retries the login exactly once.
	for attempt := 1; attempt <= 2; attempt++ {
		records := client.StatusList(ctx)
		if records == nil || len(records) != 0 {
			t.Fatalf("attempt %d: expected empty slice, got %v", attempt, records)
		}
		if client.IsAuthenticated() {
			t.Fatalf("attempt %d: expected client to remain unauthenticated", attempt)
		}
	}
	if loginRequests != 2 {
		t.Fatalf("expected one login attempt per fetch, got %d", loginRequests)
	}
}

func TestFetchersEmptyOnBadResponses(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"unrecognized shape", http.StatusOK, `{"surprise":true}`},
		{"error envelope", http.StatusOK, `{"status":"error","message":"too many requests"}`},
		{"malformed json", http.StatusOK, `{"StatusList":`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/":
					w.WriteHeader(http.StatusOK)
				case "/Login.json":
					w.Header().Set("Content-Type", "application/json")
					_, _ = io.WriteString(w, `{"user":{"userid":1}}`)
				default:
					w.WriteHeader(tc.status)
					_, _ = io.WriteString(w, tc.body)
				}
			}))
			defer server.Close()

			client := NewClient(testConfig(server.URL), server.Client())
			ctx := context.Background()

			for _, fetch := range []func(context.Context) []map[string]any{
				client.Assets, client.StatusList, client.UserLocations, client.Groups,
			} {
				records := fetch(ctx)
				if records == nil || len(records) != 0 {
					t.Fatalf("expected empty slice, got %v", records)
				}
			}
		})
	}
}

func TestLogoutUnauthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request to %s", r.URL.Path)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	if !client.Logout(context.Background()) {
		t.Fatal("expected logout without a session to be a no-op success")
	}
}

func TestLogoutRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/Login.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"user":{"userid":1}}`)
		case "/Logout.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"error","reason":"session expired"}`)
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	ctx := context.Background()
	if !client.Authenticate(ctx) {
		t.Fatal("expected authentication to succeed")
	}
	if client.Logout(ctx) {
		t.Fatal("expected rejected logout to report failure")
	}
}

func TestCloseLogsOut(t *testing.T) {
	var logoutRequests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/Login.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"user":{"userid":1}}`)
		case "/Logout.json":
			logoutRequests++
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"ok"}`)
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	ctx := context.Background()
	if !client.Authenticate(ctx) {
		t.Fatal("expected authentication to succeed")
	}

	client.Close(ctx)
	if logoutRequests != 1 {
		t.Fatalf("expected Close to log out once, got %d", logoutRequests)
	}
	if client.IsAuthenticated() {
		t.Fatal("expected client to be unauthenticated after Close")
	}
}
