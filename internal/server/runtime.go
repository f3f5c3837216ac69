package server

import (
	"context"
	"fmt"
	"net/netip"

	"krypton/internal/domain"
	"krypton/internal/installer"
	"krypton/internal/template"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
)

const (
	containerHome = "/home/container"
	containerUser = "container"
	cpuPeriod     = 100000
)

// readonlyProcPaths are mounted read-only in the runtime container; the
// installer container runs privileged and skips them.
var readonlyProcPaths = []string{
	"/proc/bus",
	"/proc/fs",
	"/proc/irq",
	"/proc/sys",
	"/proc/sysrq-trigger",
}

// templateStartup renders the record's startup command. When no panel
// snapshot is in hand the cargo references resolve as identities, which
// matches their expansion semantics exactly.
func (m *Manager) templateStartup(srv *domain.Server, cargo []domain.CargoFile) (string, error) {
	if cargo == nil {
		for _, path := range template.CargoPlaceholders(srv.StartupCommand) {
			cargo = append(cargo, domain.CargoFile{TargetPath: path})
		}
	}
	return template.Render(srv.StartupCommand, srv.Variables, cargo)
}

// createRuntimeContainer builds the persistent, least-privileged game
// container. It does not start it.
func (m *Manager) createRuntimeContainer(ctx context.Context, srv *domain.Server, cargo []domain.CargoFile) (string, error) {
	startup, err := m.templateStartup(srv, cargo)
	if err != nil {
		return "", err
	}

	env := []string{
		"TERM=xterm",
		"HOME=" + containerHome,
		"USER=" + containerUser,
		"STARTUP=" + startup,
	}
	for _, v := range srv.Variables {
		env = append(env, fmt.Sprintf("%s=%s", installer.EnvName(v.Name), v.Value()))
	}

	exposedPorts := make(network.PortSet)
	portBindings := make(network.PortMap)

	hostIP := netip.Addr{}
	if srv.Allocation.BindAddress != "" {
		hostIP, err = netip.ParseAddr(srv.Allocation.BindAddress)
		if err != nil {
			return "", fmt.Errorf("invalid bind address %q: %w", srv.Allocation.BindAddress, err)
		}
	}

	for _, proto := range []string{"tcp", "udp"} {
		port, err := network.ParsePort(fmt.Sprintf("%d/%s", srv.Allocation.Port, proto))
		if err != nil {
			return "", fmt.Errorf("invalid allocation port %d: %w", srv.Allocation.Port, err)
		}
		exposedPorts[port] = struct{}{}
		portBindings[port] = []network.PortBinding{
			{HostIP: hostIP, HostPort: fmt.Sprintf("%d", srv.Allocation.Port)},
		}
	}

	containerCfg := &container.Config{
		Image:      srv.Image,
		User:       containerUser,
		WorkingDir: containerHome,
		Env:        env,
		Tty:        true,
		OpenStdin:  true,
		Labels: map[string]string{
			"pterodactyl.server.id":   srv.ID,
			"pterodactyl.server.name": srv.Name,
		},
		ExposedPorts: exposedPorts,
	}

	init := true
	hostCfg := &container.HostConfig{
		Binds:         []string{m.VolumePath(srv.ID) + ":" + containerHome},
		NetworkMode:   "bridge",
		Init:          &init,
		SecurityOpt:   []string{"no-new-privileges"},
		ReadonlyPaths: readonlyProcPaths,
		PortBindings:  portBindings,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		Resources: container.Resources{
			Memory:     srv.MemoryLimit,
			MemorySwap: srv.MemoryLimit * 2,
			CPUQuota:   int64(srv.CPULimit * cpuPeriod),
			CPUPeriod:  cpuPeriod,
		},
	}

	return m.Docker.Create(ctx, SanitizeVolumeName(srv.ID), containerCfg, hostCfg)
}
