package ws

import (
	"context"
	"net"
	"net/http"
	"time"

	"krypton/internal/console"
	"krypton/internal/docker"
	"krypton/internal/panel"
	"krypton/internal/server"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades console connections and drives each session from
// open to authenticated.
type Handler struct {
	Registry *Registry
	Cache    *ValidationCache
	Panel    *panel.Client
	Manager  *server.Manager
	Docker   *docker.Client
	Rings    *console.RingSet

	log *zap.Logger
}

func NewHandler(registry *Registry, cache *ValidationCache, panelClient *panel.Client, manager *server.Manager, dockerClient *docker.Client, rings *console.RingSet, log *zap.Logger) *Handler {
	return &Handler{
		Registry: registry,
		Cache:    cache,
		Panel:    panelClient,
		Manager:  manager,
		Docker:   dockerClient,
		Rings:    rings,
		log:      log.Named("ws"),
	}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	serverID := SanitizeServerID(r.URL.Query().Get("server"))
	token := r.URL.Query().Get("token")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	if serverID == "" || token == "" {
		closeAndDrop(conn, closeAuthFailed, "missing server or token")
		return
	}

	if !h.Registry.AcquireIP(ip) {
		closeAndDrop(conn, closeAuthFailed, "too many connections")
		return
	}

	s := newSession(conn, serverID, ip, h)
	go s.writePump()
	go h.authenticate(s, token)
}

func closeAndDrop(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}

// authenticate resolves the token within the auth deadline: cache
// first, panel on a miss. The session only joins the registry once
// the verdict is in.
func (h *Handler) authenticate(s *Session, token string) {
	type verdict struct {
		validated bool
	}

	result := make(chan verdict, 1)
	go func() {
		if validated, ok := h.Cache.Get(s.ServerID, token); ok {
			result <- verdict{validated: validated}
			return
		}
		resp := h.Panel.Validate(s.ctx, s.ServerID, token)
		if resp.Validated {
			// Only positive verdicts are worth remembering; a failed
			// token costs the client a reconnect anyway.
			h.Cache.Put(s.ServerID, token, true)
		}
		result <- verdict{validated: resp.Validated}
	}()

	select {
	case v := <-result:
		if !v.validated {
			s.closeWithCode(closeAuthFailed, "token rejected")
			return
		}
	case <-time.After(authDeadline):
		s.closeWithCode(closeAuthTimeout, "authentication timed out")
		return
	case <-s.ctx.Done():
		return
	}

	h.onAuthenticated(s)
}

// onAuthenticated replays recent console history, primes the client
// with a stats frame, then starts the attacher and sampler.
func (h *Handler) onAuthenticated(s *Session) {
	srv, err := h.Manager.GetServer(s.ServerID)
	if err != nil {
		s.closeWithCode(closeInternal, "server record unavailable")
		return
	}
	if srv.ContainerID == "" {
		s.closeWithCode(closeInternal, "server has no container")
		return
	}
	s.containerID.Store(srv.ContainerID)

	h.Registry.add(s)

	for _, line := range h.Rings.Get(s.ServerID).Tail(ringTailSize) {
		s.sendEvent(eventConsoleOutput, consolePayload{Message: line})
	}

	sampler := newStatsSampler(s)
	sampler.sampleOnce(context.Background())

	s.sendEvent(eventAuthSuccess, map[string]string{"state": string(srv.State)})

	go s.attachLogs()
	go sampler.run()
	go s.readLoop()

	h.log.Info("session authenticated",
		zap.String("server", s.ServerID),
		zap.String("session", s.ID))
}
