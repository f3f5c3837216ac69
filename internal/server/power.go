package server

import (
	"context"
	"fmt"

	"krypton/internal/domain"

	"go.uber.org/zap"
)

const (
	graceStop       = 30
	graceStopUpdate = 10
)

type PowerAction string

const (
	PowerStart   PowerAction = "start"
	PowerStop    PowerAction = "stop"
	PowerRestart PowerAction = "restart"
	PowerKill    PowerAction = "kill"
)

func ParsePowerAction(s string) (PowerAction, error) {
	switch PowerAction(s) {
	case PowerStart, PowerStop, PowerRestart, PowerKill:
		return PowerAction(s), nil
	}
	return "", fmt.Errorf("unknown power action %q", s)
}

// checkTransition gates a power action against the current state.
func checkTransition(state domain.ServerState, action PowerAction) error {
	deny := func(reason string) error {
		return fmt.Errorf("%w: cannot %s a server that is %s", domain.ErrInvalidTransition, action, reason)
	}

	switch state {
	case domain.StateInstalling, domain.StateCreating, domain.StateUpdating, domain.StateDeleting:
		return deny(string(state))
	case domain.StateInstallFailed, domain.StateUpdateFailed, domain.StateErrored:
		if action != PowerStart {
			return deny(string(state))
		}
		return nil
	}

	switch action {
	case PowerStart:
		if state == domain.StateRunning || state == domain.StateStarting {
			return deny("already running")
		}
	case PowerStop, PowerKill:
		if state == domain.StateStopped || state == domain.StateStopping || state == domain.StateInstalled {
			return deny("not running")
		}
	case PowerRestart:
		if state == domain.StateStarting || state == domain.StateStopping {
			return deny("restarting")
		}
	}
	return nil
}

// Power executes a gated power action. Any accepted action clears the
// server's log ring; the old container instance's output is gone with
// the instance.
func (m *Manager) Power(ctx context.Context, serverID string, action PowerAction) (*domain.Server, error) {
	lock := m.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	srv, err := m.Store.GetServerByID(serverID)
	if err != nil {
		return nil, err
	}

	if err := checkTransition(srv.State, action); err != nil {
		return nil, err
	}

	m.Rings.Get(serverID).Clear()

	switch action {
	case PowerStart:
		err = m.powerStart(ctx, srv)
	case PowerStop:
		err = m.powerStop(ctx, srv)
	case PowerRestart:
		err = m.powerRestart(ctx, srv)
	case PowerKill:
		err = m.powerKill(ctx, srv)
	}
	if err != nil {
		return nil, err
	}

	updated, err := m.Store.GetServerByID(serverID)
	if err != nil {
		return nil, err
	}

	m.log.Info("power action applied",
		zap.String("server", serverID),
		zap.String("action", string(action)),
		zap.String("state", string(updated.State)))
	return updated, nil
}

func (m *Manager) powerStart(ctx context.Context, srv *domain.Server) error {
	containerID := srv.ContainerID

	// A server parked in installed (fresh reinstall) or one whose
	// container was lost gets a new runtime container here.
	if containerID == "" {
		id, err := m.createRuntimeContainer(ctx, srv, nil)
		if err != nil {
			return err
		}
		containerID = id
	}

	if err := m.Store.UpdateContainer(srv.ID, containerID, domain.StateStarting); err != nil {
		return err
	}
	if err := m.Docker.Start(ctx, containerID); err != nil {
		if stateErr := m.Store.UpdateState(srv.ID, domain.StateErrored); stateErr != nil {
			m.log.Error("could not persist errored state", zap.String("server", srv.ID), zap.Error(stateErr))
		}
		return err
	}
	return m.Store.UpdateContainer(srv.ID, containerID, domain.StateRunning)
}

func (m *Manager) powerStop(ctx context.Context, srv *domain.Server) error {
	if err := m.Store.UpdateState(srv.ID, domain.StateStopping); err != nil {
		return err
	}
	if err := m.Docker.Stop(ctx, srv.ContainerID, graceStop); err != nil {
		if stateErr := m.Store.UpdateState(srv.ID, domain.StateErrored); stateErr != nil {
			m.log.Error("could not persist errored state", zap.String("server", srv.ID), zap.Error(stateErr))
		}
		return err
	}
	return m.Store.UpdateState(srv.ID, domain.StateStopped)
}

func (m *Manager) powerRestart(ctx context.Context, srv *domain.Server) error {
	if srv.ContainerID == "" {
		return m.powerStart(ctx, srv)
	}
	if err := m.Docker.Restart(ctx, srv.ContainerID, graceStop); err != nil {
		if stateErr := m.Store.UpdateState(srv.ID, domain.StateErrored); stateErr != nil {
			m.log.Error("could not persist errored state", zap.String("server", srv.ID), zap.Error(stateErr))
		}
		return err
	}
	return m.Store.UpdateState(srv.ID, domain.StateRunning)
}

func (m *Manager) powerKill(ctx context.Context, srv *domain.Server) error {
	if err := m.Docker.Kill(ctx, srv.ContainerID); err != nil {
		return err
	}
	return m.Store.UpdateState(srv.ID, domain.StateStopped)
}
