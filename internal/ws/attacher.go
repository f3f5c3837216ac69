package ws

import (
	"strings"
	"time"

	"krypton/internal/console"

	"go.uber.org/zap"
)

const (
	reattachDelay = 5 * time.Second
	burstWindow   = 100 * time.Millisecond
	burstLimit    = 10
	readChunkSize = 4096
)

// attachLogs follows the container's log stream for the lifetime of
// the session, reattaching after stream errors and after power
// actions swap the container instance.
func (s *Session) attachLogs() {
	for {
		containerID, _ := s.containerID.Load().(string)
		if containerID != "" {
			s.followOnce(containerID)
		}

		// The stream ended (container stopped, engine hiccup, or a
		// rearm fired). Wait before trying again unless the session
		// is gone or a new container is ready now.
		select {
		case <-s.ctx.Done():
			return
		case <-s.rearm:
		case <-time.After(reattachDelay):
		}
	}
}

func (s *Session) followOnce(containerID string) {
	logs, err := s.docker.FollowLogs(s.ctx, containerID)
	if err != nil {
		s.log.Debug("could not follow logs", zap.Error(err))
		return
	}
	defer logs.Close()

	// Close the stream when the session dies so the blocking read
	// below unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			logs.Close()
		case <-done:
		}
	}()

	demuxer := &Demuxer{}
	burstStart := time.Now()
	burstCount := 0

	buf := make([]byte, readChunkSize)
	for {
		n, err := logs.Read(buf)
		if n > 0 {
			for _, line := range demuxer.Feed(buf[:n]) {
				now := time.Now()
				if now.Sub(burstStart) > burstWindow {
					burstStart = now
					burstCount = 0
				}
				burstCount++
				if burstCount > burstLimit {
					continue
				}
				s.emitLine(line)
			}
		}
		if err != nil {
			if tail := demuxer.Flush(); tail != "" {
				s.emitLine(tail)
			}
			return
		}
	}
}

func (s *Session) emitLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	line = console.Rebrand(line)
	if len(line) > maxPayload {
		s.log.Warn("dropping oversize console line", zap.Int("size", len(line)))
		return
	}

	s.rings.Get(s.ServerID).Append(line)
	s.sendEvent(eventConsoleOutput, consolePayload{Message: line})
}
