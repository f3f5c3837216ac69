package ws

import (
	"sync"

	"go.uber.org/zap"
)

// broadcastCap bounds tail amplification: one broadcast invocation
// emits to at most this many sessions.
const broadcastCap = 10

// Registry tracks authenticated sessions per server and enforces the
// per-IP connection bound.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[*Session]struct{}
	ipCounts map[string]int
	maxPerIP int
	log      *zap.Logger
}

// NewRegistry builds a registry. maxPerIP of 0 disables the per-IP
// connection bound.
func NewRegistry(maxPerIP int, log *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]map[*Session]struct{}),
		ipCounts: make(map[string]int),
		maxPerIP: maxPerIP,
		log:      log.Named("sessions"),
	}
}

// AcquireIP counts a new connection against its source address. A
// false return means the address is over its bound and the socket
// should be refused.
func (r *Registry) AcquireIP(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPerIP > 0 && r.ipCounts[ip] >= r.maxPerIP {
		return false
	}
	r.ipCounts[ip]++
	return true
}

func (r *Registry) ReleaseIP(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ipCounts[ip] <= 1 {
		delete(r.ipCounts, ip)
		return
	}
	r.ipCounts[ip]--
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.ServerID] == nil {
		r.sessions[s.ServerID] = make(map[*Session]struct{})
	}
	r.sessions[s.ServerID][s] = struct{}{}
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[s.ServerID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.sessions, s.ServerID)
	}
}

func (r *Registry) sessionsFor(serverID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[serverID]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Broadcast sends one event to every authenticated session of a
// server, up to the emission cap.
func (r *Registry) Broadcast(serverID string, event string, data any) {
	targets := r.sessionsFor(serverID)

	for i, s := range targets {
		if i >= broadcastCap {
			r.log.Warn("broadcast emission cap reached, skipping recipients",
				zap.String("server", serverID),
				zap.String("event", event),
				zap.Int("skipped", len(targets)-broadcastCap))
			break
		}
		s.sendEvent(event, data)
	}
}

// ConsoleOutput satisfies the lifecycle manager's notifier: install
// and daemon lines reach attached consoles as console output.
func (r *Registry) ConsoleOutput(serverID string, line string) {
	r.Broadcast(serverID, eventConsoleOutput, consolePayload{Message: line})
}
