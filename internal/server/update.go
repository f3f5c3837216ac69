package server

import (
	"context"
	"fmt"

	"krypton/internal/console"
	"krypton/internal/domain"

	"go.uber.org/zap"
)

type UpdateRequest struct {
	ServerID    string  `json:"serverId"`
	Name        string  `json:"name"`
	MemoryLimit int64   `json:"memoryLimit"`
	CPULimit    float64 `json:"cpuLimit"`
	UnitChanged bool    `json:"unitChanged"`
}

// Update swaps a server onto new limits and, when the unit changed,
// onto a new image and template. The old container is removed before
// the replacement is created; a failure in between lands in
// update_failed with no container, which the record invariants allow.
func (m *Manager) Update(serverID string, req UpdateRequest) (*domain.Server, error) {
	lock := m.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()

	srv, err := m.Store.GetServerByID(serverID)
	if err != nil {
		return nil, err
	}

	if srv.State != domain.StateRunning && srv.State != domain.StateStopped {
		return nil, fmt.Errorf("%w: cannot update a server that is %s", domain.ErrInvalidTransition, srv.State)
	}

	if err := m.Store.UpdateState(serverID, domain.StateUpdating); err != nil {
		return nil, err
	}

	updated, err := m.performUpdate(ctx, srv, req)
	if err != nil {
		m.log.Error("update failed", zap.String("server", serverID), zap.Error(err))
		m.emitConsole(serverID, console.Error, fmt.Sprintf("Update failed: %v", err))
		if stateErr := m.Store.UpdateState(serverID, domain.StateUpdateFailed); stateErr != nil {
			m.log.Error("could not persist update_failed state",
				zap.String("server", serverID), zap.Error(stateErr))
		}
		return nil, err
	}

	return updated, nil
}

func (m *Manager) performUpdate(ctx context.Context, srv *domain.Server, req UpdateRequest) (*domain.Server, error) {
	var cargo []domain.CargoFile
	if req.UnitChanged {
		// A unit swap makes the panel authoritative again: re-fetch,
		// and pull the new image before touching the old container.
		cfg, err := m.Panel.FetchConfig(ctx, srv.ID)
		if err != nil {
			return nil, err
		}

		if cfg.Unit.DockerImage != srv.Image {
			if err := m.Docker.Pull(ctx, cfg.Unit.DockerImage); err != nil {
				return nil, err
			}
		}

		m.applyConfig(srv, cfg)
		cargo = cfg.Unit.Cargo
		if err := m.Store.SaveServer(srv); err != nil {
			return nil, err
		}
	}
	// Without a unit change the stored record already holds the
	// template; config files are not re-materialized for a plain
	// resource tweak.

	name := srv.Name
	if req.Name != "" {
		name = req.Name
	}
	memoryLimit := srv.MemoryLimit
	if req.MemoryLimit != 0 {
		memoryLimit = req.MemoryLimit
	}
	cpuLimit := srv.CPULimit
	if req.CPULimit != 0 {
		cpuLimit = req.CPULimit
	}

	if srv.ContainerID != "" {
		state, err := m.Docker.Inspect(ctx, srv.ContainerID)
		if err == nil && state.Running {
			if err := m.Docker.Stop(ctx, srv.ContainerID, graceStopUpdate); err != nil {
				return nil, err
			}
		}
		if err := m.Docker.Remove(ctx, srv.ContainerID, false); err != nil {
			return nil, err
		}
	}

	srv.Name = name
	srv.MemoryLimit = memoryLimit
	srv.CPULimit = cpuLimit

	containerID, err := m.createRuntimeContainer(ctx, srv, cargo)
	if err != nil {
		return nil, err
	}

	// The update path always ends with a started replacement; a
	// server that was stopped comes back up on its new limits.
	if err := m.Docker.Start(ctx, containerID); err != nil {
		return nil, err
	}

	if err := m.Store.ApplyUpdate(srv.ID, containerID, domain.StateRunning, name, srv.Image, memoryLimit, cpuLimit); err != nil {
		return nil, err
	}

	return m.Store.GetServerByID(srv.ID)
}
