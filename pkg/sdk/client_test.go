package sdk

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsAPIKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "key123" {
			t.Errorf("Expected api key header, got %q", r.Header.Get("X-API-Key"))
		}
		if r.URL.Path != "/api/v1/servers" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`[{"id":"s1","name":"survival","state":"running"}]`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "key123")
	servers, err := c.ListServers()
	if err != nil {
		t.Fatalf("ListServers failed: %v", err)
	}
	if len(servers) != 1 || servers[0].ID != "s1" {
		t.Errorf("Unexpected servers: %+v", servers)
	}
}

func TestClientSurfacesDaemonError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"server record not found"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "key123")
	_, err := c.GetServer("missing")
	if err == nil {
		t.Fatalf("Expected error for 404")
	}
	if err.Error() != "daemon error: server record not found" {
		t.Errorf("Expected daemon error message, got %q", err)
	}
}

func TestPowerPath(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"message":"power action applied","state":"running"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "key123")
	if err := c.Power("s1", "start"); err != nil {
		t.Fatalf("Power failed: %v", err)
	}
	if gotPath != "/api/v1/servers/s1/power/start" {
		t.Errorf("Unexpected path %q", gotPath)
	}
}
