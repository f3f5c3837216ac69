package ws

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"krypton/internal/console"
	"krypton/internal/docker"
	"krypton/internal/server"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxPayload   = 50 * 1024
	authDeadline = 5 * time.Second
	ringTailSize = 10

	// Close codes surfaced to browser clients.
	closeAuthFailed  = websocket.ClosePolicyViolation // 1008
	closeInternal    = websocket.CloseInternalServerErr
	closeAuthTimeout = websocket.CloseTryAgainLater // 1013
)

const (
	eventSendCommand   = "send_command"
	eventPowerAction   = "power_action"
	eventHeartbeat     = "heartbeat"
	eventAuthSuccess   = "auth_success"
	eventConsoleOutput = "console_output"
	eventStats         = "stats"
	eventPowerStatus   = "power_status"
	eventHeartbeatAck  = "heartbeat_ack"
	eventError         = "error"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type consolePayload struct {
	Message string `json:"message"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type powerStatusPayload struct {
	Status string `json:"status"`
	Action string `json:"action"`
	State  string `json:"state,omitempty"`
	Error  string `json:"error,omitempty"`
}

var serverIDPattern = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeServerID strips anything outside the id alphabet before the
// value touches the store or the engine.
func SanitizeServerID(id string) string {
	return serverIDPattern.ReplaceAllString(id, "")
}

// Session is one authenticated client console connection. Its three
// activities (reader, log attacher, stats sampler) write disjoint
// fields and share the cancellation context.
type Session struct {
	ID       string
	ServerID string

	conn     *websocket.Conn
	send     chan []byte
	registry *Registry
	manager  *server.Manager
	docker   *docker.Client
	rings    *console.RingSet
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	ip            string
	containerID   atomic.Value // string, updated after power start
	lastHeartbeat atomic.Int64
	rearm         chan struct{}
	closeOnce     sync.Once
}

func newSession(conn *websocket.Conn, serverID string, ip string, h *Handler) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:       uuid.New().String(),
		ServerID: serverID,
		conn:     conn,
		send:     make(chan []byte, 256),
		registry: h.Registry,
		manager:  h.Manager,
		docker:   h.Docker,
		rings:    h.Rings,
		log:      h.log.With(zap.String("server", serverID)),
		ctx:      ctx,
		cancel:   cancel,
		ip:       ip,
		rearm:    make(chan struct{}, 1),
	}
	s.containerID.Store("")
	s.touchHeartbeat()
	return s
}

func (s *Session) touchHeartbeat() {
	s.lastHeartbeat.Store(time.Now().Unix())
}

// LastHeartbeat reports when the peer last showed signs of life.
func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(s.lastHeartbeat.Load(), 0)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.registry.remove(s)
		s.registry.ReleaseIP(s.ip)
		s.conn.Close()
	})
}

func (s *Session) closeWithCode(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		s.log.Debug("could not write close frame", zap.Error(err))
	}
	s.close()
}

// sendEvent queues an outbound frame, enforcing the payload cap. An
// oversize frame is replaced by an error frame rather than sent.
func (s *Session) sendEvent(event string, data any) {
	payload, err := json.Marshal(outEnvelope{Event: event, Data: data})
	if err != nil {
		s.log.Error("could not encode outbound frame", zap.String("event", event), zap.Error(err))
		return
	}
	if len(payload) > maxPayload {
		s.log.Warn("dropping oversize outbound frame",
			zap.String("event", event), zap.Int("size", len(payload)))
		payload, _ = json.Marshal(outEnvelope{
			Event: eventError,
			Data:  errorPayload{Message: "payload too large"},
		})
	}

	select {
	case s.send <- payload:
	default:
		s.log.Warn("session send buffer full, dropping frame", zap.String("event", event))
	}
}

func (s *Session) writePump() {
	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.close()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// readLoop owns lastHeartbeat: pings, heartbeat events and every other
// inbound message all count as liveness.
func (s *Session) readLoop() {
	defer s.close()

	s.conn.SetPingHandler(func(appData string) error {
		s.touchHeartbeat()
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.touchHeartbeat()

		if len(raw) > maxPayload {
			s.sendEvent(eventError, errorPayload{Message: "payload too large"})
			continue
		}

		var msg envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendEvent(eventError, errorPayload{Message: "malformed frame"})
			continue
		}

		switch msg.Event {
		case eventHeartbeat:
			s.sendEvent(eventHeartbeatAck, nil)
		case eventSendCommand:
			var cmd string
			if err := json.Unmarshal(msg.Data, &cmd); err != nil {
				s.sendEvent(eventError, errorPayload{Message: "malformed command"})
				continue
			}
			go s.forwardCommand(cmd)
		case eventPowerAction:
			var data struct {
				Action string `json:"action"`
			}
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				s.sendEvent(eventError, errorPayload{Message: "malformed power action"})
				continue
			}
			go s.handlePower(data.Action)
		default:
			s.sendEvent(eventError, errorPayload{Message: "unknown event"})
		}
	}
}

var printablePattern = regexp.MustCompile(`[^\x20-\x7e]`)

// sanitizeCommand reduces a console command to printable ASCII with
// quote characters removed.
func sanitizeCommand(cmd string) string {
	cmd = printablePattern.ReplaceAllString(cmd, "")
	cmd = strings.NewReplacer(`"`, "", "'", "").Replace(cmd)
	return strings.TrimSpace(cmd)
}

// forwardCommand writes a console command to the container's stdin.
// The attach is closed shortly after the write to flush it; the
// engine serializes concurrent attaches.
func (s *Session) forwardCommand(raw string) {
	cmd := sanitizeCommand(raw)
	if cmd == "" {
		return
	}

	containerID, _ := s.containerID.Load().(string)
	if containerID == "" {
		s.sendEvent(eventError, errorPayload{Message: "no container to send to"})
		return
	}

	attach, err := s.docker.AttachStdin(s.ctx, containerID)
	if err != nil {
		s.log.Warn("could not attach for command", zap.Error(err))
		s.sendEvent(eventError, errorPayload{Message: "could not reach server console"})
		return
	}

	if _, err := attach.Write([]byte(cmd + "\n")); err != nil {
		s.log.Warn("could not write command", zap.Error(err))
	}
	time.Sleep(100 * time.Millisecond)
	attach.Close()
}

func (s *Session) handlePower(rawAction string) {
	action, err := server.ParsePowerAction(rawAction)
	if err != nil {
		s.sendEvent(eventError, errorPayload{Message: err.Error()})
		return
	}

	// Power actions are server-scoped: a client closing its tab must
	// not abort a stop half-way through.
	srv, err := s.manager.Power(context.Background(), s.ServerID, action)
	if err != nil {
		s.registry.Broadcast(s.ServerID, eventPowerStatus, powerStatusPayload{
			Status: "error",
			Action: string(action),
			Error:  err.Error(),
		})
		return
	}

	s.containerID.Store(srv.ContainerID)

	status := console.Format(console.Daemon, "Server marked as "+string(srv.State)+".")
	s.rings.Get(s.ServerID).Append(status)
	s.registry.ConsoleOutput(s.ServerID, status)

	s.registry.Broadcast(s.ServerID, eventPowerStatus, powerStatusPayload{
		Status: "success",
		Action: string(action),
		State:  string(srv.State),
	})

	// A started container is a new log stream; the attacher has to
	// follow the new instance.
	if action == server.PowerStart || action == server.PowerRestart {
		for _, peer := range s.registry.sessionsFor(s.ServerID) {
			peer.containerID.Store(srv.ContainerID)
			select {
			case peer.rearm <- struct{}{}:
			default:
			}
		}
	}
}
