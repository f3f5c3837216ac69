package panel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"krypton/internal/domain"

	"go.uber.org/zap"
)

func TestFetchConfigRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"settings":{"name":"survival","startupCommand":"java -jar server.jar"},"unit":{"dockerImage":"itzg/minecraft-server"}}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, zap.NewNop())
	cfg, err := c.FetchConfig(context.Background(), "s1")
	if err != nil {
		t.Fatalf("FetchConfig failed: %v", err)
	}
	if cfg.Settings.Name != "survival" {
		t.Errorf("Expected survival, got %q", cfg.Settings.Name)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchConfigExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, zap.NewNop())
	_, err := c.FetchConfig(context.Background(), "s1")
	if !errors.Is(err, domain.ErrPanelUnavailable) {
		t.Fatalf("Expected ErrPanelUnavailable, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", calls.Load())
	}
}

func TestValidateSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Expected bearer header, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/api/servers/s1/validate/tok" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"validated":true,"server":{"id":"s1","name":"survival","node":{"fqdn":"node1.example.com","port":8080}}}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, zap.NewNop())
	verdict := c.Validate(context.Background(), "s1", "tok")
	if !verdict.Validated {
		t.Fatalf("Expected validated verdict")
	}
	if verdict.Server.Node.FQDN != "node1.example.com" {
		t.Errorf("Expected node fqdn decoded, got %q", verdict.Server.Node.FQDN)
	}
}

func TestValidateFailureIsUnvalidatedNotError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, zap.NewNop())
	if verdict := c.Validate(context.Background(), "s1", "bad"); verdict.Validated {
		t.Errorf("Expected unvalidated verdict for 403")
	}

	// Transport failure behaves the same way.
	dead := NewClient("http://127.0.0.1:1", zap.NewNop())
	if verdict := dead.Validate(context.Background(), "s1", "tok"); verdict.Validated {
		t.Errorf("Expected unvalidated verdict for transport failure")
	}
}
