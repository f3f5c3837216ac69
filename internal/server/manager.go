package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"krypton/internal/console"
	"krypton/internal/docker"
	"krypton/internal/domain"
	"krypton/internal/installer"
	"krypton/internal/panel"
	"krypton/internal/storage"

	"go.uber.org/zap"
)

// Notifier fans console lines out to attached client sessions. The
// session registry implements it; the manager only knows the shape.
type Notifier interface {
	ConsoleOutput(serverID string, line string)
}

var volumeNamePattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeVolumeName maps a server id onto a safe directory name.
func SanitizeVolumeName(id string) string {
	return volumeNamePattern.ReplaceAllString(id, "_")
}

// Manager owns the server lifecycle: it is the only writer of record
// state and container ids, and serializes mutations per server.
type Manager struct {
	Store       *storage.GormStore
	Docker      *docker.Client
	Panel       *panel.Client
	Installer   *installer.Installer
	Rings       *console.RingSet
	VolumesPath string

	notifier Notifier
	log      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store *storage.GormStore, dockerClient *docker.Client, panelClient *panel.Client, inst *installer.Installer, rings *console.RingSet, volumesPath string, log *zap.Logger) *Manager {
	return &Manager{
		Store:       store,
		Docker:      dockerClient,
		Panel:       panelClient,
		Installer:   inst,
		Rings:       rings,
		VolumesPath: volumesPath,
		log:         log.Named("lifecycle"),
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetNotifier wires the session registry in after construction. The
// ws package imports this one, so the manager reaches the registry only
// through this narrow interface.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, ok := m.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[id] = lock
	return lock
}

func (m *Manager) VolumePath(id string) string {
	return filepath.Join(m.VolumesPath, SanitizeVolumeName(id))
}

// emitConsole pushes a daemon line into the server's ring and out to
// every attached session.
func (m *Manager) emitConsole(serverID string, t console.LogType, line string) {
	formatted := console.Format(t, line)
	m.Rings.Get(serverID).Append(formatted)
	if m.notifier != nil {
		m.notifier.ConsoleOutput(serverID, formatted)
	}
}

type CreateRequest struct {
	ServerID    string            `json:"serverId"`
	Name        string            `json:"name"`
	MemoryLimit int64             `json:"memoryLimit"`
	CPULimit    float64           `json:"cpuLimit"`
	Allocation  domain.Allocation `json:"allocation"`
}

// Create persists the record in the installing state and returns
// immediately; provisioning continues in the background so the panel
// gets its 201 before any container work begins.
func (m *Manager) Create(req CreateRequest) (*domain.Server, error) {
	srv := &domain.Server{
		ID:          req.ServerID,
		Name:        req.Name,
		State:       domain.StateInstalling,
		MemoryLimit: req.MemoryLimit,
		CPULimit:    req.CPULimit,
		Allocation:  req.Allocation,
		CreatedAt:   time.Now().UTC(),
	}

	if err := m.Store.SaveServer(srv); err != nil {
		return nil, fmt.Errorf("could not persist server record: %w", err)
	}

	go m.provision(srv.ID)

	return srv, nil
}

// provision runs the create flow after the HTTP response went out:
// fetch config, install, create and start the runtime container.
func (m *Manager) provision(serverID string) {
	lock := m.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()

	srv, err := m.Store.GetServerByID(serverID)
	if err != nil {
		m.log.Error("provision lost its record", zap.String("server", serverID), zap.Error(err))
		return
	}

	cfg, err := m.Panel.FetchConfig(ctx, serverID)
	if err != nil {
		m.failInstall(srv, fmt.Errorf("could not fetch server config: %w", err))
		return
	}

	m.applyConfig(srv, cfg)
	if err := m.Store.SaveServer(srv); err != nil {
		m.failInstall(srv, err)
		return
	}

	if err := m.runInstall(ctx, srv, cfg); err != nil {
		m.failInstall(srv, err)
		return
	}

	containerID, err := m.createRuntimeContainer(ctx, srv, cfg.Unit.Cargo)
	if err != nil {
		m.failInstall(srv, err)
		return
	}

	if err := m.Docker.Start(ctx, containerID); err != nil {
		srv.ContainerID = containerID
		m.failInstall(srv, err)
		return
	}

	if err := m.Store.UpdateContainer(serverID, containerID, domain.StateRunning); err != nil {
		m.log.Error("could not persist running state", zap.String("server", serverID), zap.Error(err))
		return
	}

	m.emitConsole(serverID, console.Daemon, "Server installed and running.")
	m.log.Info("server provisioned",
		zap.String("server", serverID),
		zap.String("container", containerID))
}

// applyConfig copies the panel-authoritative fields onto the record.
// Resource limits stay as the panel's create request set them.
func (m *Manager) applyConfig(srv *domain.Server, cfg *domain.ServerConfig) {
	if cfg.Settings.Name != "" {
		srv.Name = cfg.Settings.Name
	}
	srv.Image = cfg.Unit.DockerImage
	srv.Variables = cfg.Unit.Variables
	srv.StartupCommand = cfg.Settings.StartupCommand
	srv.Install = cfg.Unit.Install
	srv.ConfigFiles = cfg.Unit.ConfigFiles
	if cfg.Allocation.Port != 0 {
		srv.Allocation = cfg.Allocation
	}
	if cfg.Resources.MemoryLimit != 0 && srv.MemoryLimit == 0 {
		srv.MemoryLimit = cfg.Resources.MemoryLimit
	}
	if cfg.Resources.CPULimit != 0 && srv.CPULimit == 0 {
		srv.CPULimit = cfg.Resources.CPULimit
	}
}

// runInstall validates template inputs, then hands off to the
// installer. Template violations fail before any container work.
func (m *Manager) runInstall(ctx context.Context, srv *domain.Server, cfg *domain.ServerConfig) error {
	if _, err := m.templateStartup(srv, cfg.Unit.Cargo); err != nil {
		return err
	}

	volume := m.VolumePath(srv.ID)
	if err := os.MkdirAll(volume, 0755); err != nil {
		return fmt.Errorf("could not create volume directory: %w", err)
	}

	sink := func(line string) {
		m.emitConsole(srv.ID, console.Info, console.Rebrand(line))
	}

	return m.Installer.Run(ctx, srv, cfg, volume, sink)
}

func (m *Manager) failInstall(srv *domain.Server, cause error) {
	m.log.Error("installation failed", zap.String("server", srv.ID), zap.Error(cause))
	m.emitConsole(srv.ID, console.Error, fmt.Sprintf("Installation failed: %v", cause))

	if err := m.Store.UpdateContainer(srv.ID, srv.ContainerID, domain.StateInstallFailed); err != nil {
		m.log.Error("could not persist install_failed state",
			zap.String("server", srv.ID), zap.Error(err))
	}
}

// Reinstall wipes the runtime container and reruns the installer. On
// success the record parks in installed; the next start power action
// brings up a fresh runtime container.
func (m *Manager) Reinstall(serverID string) error {
	lock := m.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()

	srv, err := m.Store.GetServerByID(serverID)
	if err != nil {
		return err
	}

	if srv.ContainerID != "" {
		if err := m.Docker.Remove(ctx, srv.ContainerID, false); err != nil {
			return err
		}
	}

	srv.ContainerID = ""
	if err := m.Store.UpdateContainer(serverID, "", domain.StateInstalling); err != nil {
		return err
	}

	cfg, err := m.Panel.FetchConfig(ctx, serverID)
	if err != nil {
		m.failInstall(srv, err)
		return err
	}

	m.applyConfig(srv, cfg)
	if err := m.Store.SaveServer(srv); err != nil {
		m.failInstall(srv, err)
		return err
	}

	if err := m.runInstall(ctx, srv, cfg); err != nil {
		m.failInstall(srv, err)
		return err
	}

	if err := m.Store.UpdateState(serverID, domain.StateInstalled); err != nil {
		return err
	}

	m.emitConsole(serverID, console.Daemon, "Reinstall complete.")
	return nil
}

// Delete tears down container, volume and record, in that order. Each
// step tolerates "already gone" so a second attempt is safe.
func (m *Manager) Delete(serverID string) error {
	lock := m.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()

	srv, err := m.Store.GetServerByID(serverID)
	if err != nil {
		return err
	}

	if err := m.Store.UpdateState(serverID, domain.StateDeleting); err != nil {
		return err
	}

	if srv.ContainerID != "" {
		if err := m.Docker.Remove(ctx, srv.ContainerID, true); err != nil {
			// Deletion is idempotent by intent; a container the
			// engine cannot remove must not strand the record.
			m.log.Warn("could not remove container during delete",
				zap.String("server", serverID), zap.Error(err))
		}
	}

	if err := os.RemoveAll(m.VolumePath(serverID)); err != nil {
		m.log.Warn("could not remove volume directory",
			zap.String("server", serverID), zap.Error(err))
	}

	if err := m.Store.DeleteServer(serverID); err != nil {
		return err
	}

	m.Rings.Remove(serverID)

	m.mu.Lock()
	delete(m.locks, serverID)
	m.mu.Unlock()

	m.log.Info("server deleted", zap.String("server", serverID))
	return nil
}

// GetServer returns the persisted record.
func (m *Manager) GetServer(id string) (*domain.Server, error) {
	return m.Store.GetServerByID(id)
}

func (m *Manager) ListServers() ([]domain.Server, error) {
	return m.Store.ListServers()
}

// LiveStatus inspects the runtime container behind a record, when one
// exists.
func (m *Manager) LiveStatus(ctx context.Context, srv *domain.Server) (*docker.ContainerState, error) {
	if srv.ContainerID == "" {
		return nil, nil
	}
	return m.Docker.Inspect(ctx, srv.ContainerID)
}

// Reconcile repairs records stranded in transient states by a daemon
// restart, deriving the true state from a live inspect.
func (m *Manager) Reconcile(ctx context.Context) error {
	servers, err := m.Store.ListServers()
	if err != nil {
		return err
	}

	for _, srv := range servers {
		switch srv.State {
		case domain.StateCreating, domain.StateStarting, domain.StateStopping, domain.StateUpdating:
		default:
			continue
		}

		state := domain.StateStopped
		if srv.ContainerID == "" {
			state = domain.StateErrored
		} else if inspected, err := m.Docker.Inspect(ctx, srv.ContainerID); err != nil {
			state = domain.StateErrored
		} else if inspected.Running {
			state = domain.StateRunning
		}

		if err := m.Store.UpdateState(srv.ID, state); err != nil {
			return err
		}
		m.log.Info("reconciled stranded server state",
			zap.String("server", srv.ID),
			zap.String("from", string(srv.State)),
			zap.String("to", string(state)))
	}
	return nil
}
