package ws

import (
	"encoding/json"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func stubSession(r *Registry, serverID string) *Session {
	return &Session{
		ID:       fmt.Sprintf("session-%p", r),
		ServerID: serverID,
		send:     make(chan []byte, 16),
		registry: r,
		log:      zap.NewNop(),
	}
}

func TestRegistryIPBound(t *testing.T) {
	r := NewRegistry(2, zap.NewNop())

	if !r.AcquireIP("10.0.0.1") || !r.AcquireIP("10.0.0.1") {
		t.Fatalf("Expected first two connections accepted")
	}
	if r.AcquireIP("10.0.0.1") {
		t.Errorf("Expected third connection refused")
	}
	if !r.AcquireIP("10.0.0.2") {
		t.Errorf("Bound is per address")
	}

	r.ReleaseIP("10.0.0.1")
	if !r.AcquireIP("10.0.0.1") {
		t.Errorf("Expected slot freed after release")
	}
}

func TestRegistryIPBoundDisabled(t *testing.T) {
	r := NewRegistry(0, zap.NewNop())
	for i := 0; i < 50; i++ {
		if !r.AcquireIP("10.0.0.1") {
			t.Fatalf("Disabled bound must accept everything")
		}
	}
}

func TestBroadcastReachesServerSessions(t *testing.T) {
	r := NewRegistry(0, zap.NewNop())

	s1 := stubSession(r, "alpha")
	s2 := stubSession(r, "alpha")
	other := stubSession(r, "beta")
	r.add(s1)
	r.add(s2)
	r.add(other)

	r.Broadcast("alpha", eventConsoleOutput, consolePayload{Message: "hi"})

	for _, s := range []*Session{s1, s2} {
		select {
		case raw := <-s.send:
			var env struct {
				Event string `json:"event"`
				Data  struct {
					Message string `json:"message"`
				} `json:"data"`
			}
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("Broadcast frame is not JSON: %v", err)
			}
			if env.Event != eventConsoleOutput || env.Data.Message != "hi" {
				t.Errorf("Unexpected frame: %s", raw)
			}
		default:
			t.Errorf("Expected frame delivered to session")
		}
	}

	select {
	case <-other.send:
		t.Errorf("Broadcast must not leak across servers")
	default:
	}
}

func TestBroadcastEmissionCap(t *testing.T) {
	r := NewRegistry(0, zap.NewNop())

	sessions := make([]*Session, 15)
	for i := range sessions {
		sessions[i] = &Session{
			ID:       fmt.Sprintf("s-%d", i),
			ServerID: "alpha",
			send:     make(chan []byte, 1),
			registry: r,
			log:      zap.NewNop(),
		}
		r.add(sessions[i])
	}

	r.Broadcast("alpha", eventConsoleOutput, consolePayload{Message: "x"})

	delivered := 0
	for _, s := range sessions {
		select {
		case <-s.send:
			delivered++
		default:
		}
	}
	if delivered != broadcastCap {
		t.Errorf("Expected exactly %d emissions, got %d", broadcastCap, delivered)
	}
}

func TestRegistryRemoveCleansUp(t *testing.T) {
	r := NewRegistry(0, zap.NewNop())

	s := stubSession(r, "alpha")
	r.add(s)
	r.remove(s)

	if got := len(r.sessionsFor("alpha")); got != 0 {
		t.Errorf("Expected empty session set, got %d", got)
	}
}
