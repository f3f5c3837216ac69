package installer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"krypton/internal/cargo"
	"krypton/internal/docker"
	"krypton/internal/domain"
	"krypton/internal/template"

	"github.com/moby/moby/api/types/container"
	"go.uber.org/zap"
)

const (
	workspaceDir      = ".installation"
	scriptName        = "install.sh"
	containerTarget   = "/mnt/server"
	failureDumpName   = "installation.log"
	installNameSuffix = "_installer"
)

var containerNamePattern = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// LineSink receives install output line by line, so attached sessions
// can watch an install happen.
type LineSink func(line string)

// Installer runs the one-shot install container for a server.
type Installer struct {
	docker *docker.Client
	cargo  *cargo.Fetcher
	log    *zap.Logger
}

func New(dockerClient *docker.Client, fetcher *cargo.Fetcher, log *zap.Logger) *Installer {
	return &Installer{
		docker: dockerClient,
		cargo:  fetcher,
		log:    log.Named("installer"),
	}
}

// Stage builds the installation workspace inside the volume and writes
// the generated install script.
func Stage(volumePath string, variables []domain.Variable, userScript string) error {
	for _, sub := range []string{"logs", "temp", "config"} {
		if err := os.MkdirAll(filepath.Join(volumePath, workspaceDir, sub), 0755); err != nil {
			return fmt.Errorf("could not stage workspace: %w", err)
		}
	}

	script := GenerateScript(variables, userScript)
	scriptPath := filepath.Join(volumePath, workspaceDir, scriptName)
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		return fmt.Errorf("could not write install script: %w", err)
	}
	return nil
}

// MaterializeConfigFiles templates each panel config file and writes it
// into the volume. The panel copy is authoritative; local edits are
// overwritten.
func MaterializeConfigFiles(volumePath string, files []domain.ConfigFile, variables []domain.Variable, cargoFiles []domain.CargoFile) error {
	for _, file := range files {
		content, err := template.Render(file.Content, variables, cargoFiles)
		if err != nil {
			return fmt.Errorf("config file %q: %w", file.Path, err)
		}

		dest := filepath.Join(volumePath, cargo.SafeRelPath(file.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, []byte(content), 0644); err != nil {
			return fmt.Errorf("config file %q: %w", file.Path, err)
		}
	}
	return nil
}

// Run executes the full install flow: stage, materialize config files,
// ship cargo, pull both images, run the script to completion. On a
// non-zero exit the buffered output is dumped to installation.log at
// the volume root and the workspace is preserved for inspection.
func (i *Installer) Run(ctx context.Context, srv *domain.Server, cfg *domain.ServerConfig, volumePath string, sink LineSink) error {
	if err := Stage(volumePath, cfg.Unit.Variables, cfg.Unit.Install.Script); err != nil {
		return err
	}

	if err := MaterializeConfigFiles(volumePath, cfg.Unit.ConfigFiles, cfg.Unit.Variables, cfg.Unit.Cargo); err != nil {
		return err
	}

	if len(cfg.Unit.Cargo) > 0 {
		if err := i.cargo.Ship(ctx, volumePath, cfg.Unit.Cargo, sink); err != nil {
			return err
		}
	}

	// Both images are needed: the installer image now, the runtime
	// image right after a successful install. Pulling the runtime
	// image here means an install never "succeeds" into a server that
	// cannot start.
	if err := i.docker.Pull(ctx, cfg.Unit.Install.Image); err != nil {
		return err
	}
	if err := i.docker.Pull(ctx, cfg.Unit.DockerImage); err != nil {
		return err
	}

	containerID, err := i.createInstallContainer(ctx, srv, cfg, volumePath)
	if err != nil {
		return err
	}

	i.log.Info("install container started",
		zap.String("server", srv.ID),
		zap.String("container", containerID))

	var buffered []string
	bufferSink := func(line string) {
		buffered = append(buffered, line)
		if sink != nil {
			sink(line)
		}
	}

	exitCode, err := i.streamAndWait(ctx, containerID, bufferSink)
	if err != nil {
		return err
	}

	if exitCode != 0 {
		i.dumpFailureLog(volumePath, buffered, exitCode)
		return &domain.InstallScriptError{ExitCode: exitCode}
	}

	if err := os.RemoveAll(filepath.Join(volumePath, workspaceDir)); err != nil {
		i.log.Warn("could not remove installation workspace",
			zap.String("server", srv.ID), zap.Error(err))
	}
	return nil
}

func (i *Installer) createInstallContainer(ctx context.Context, srv *domain.Server, cfg *domain.ServerConfig, volumePath string) (string, error) {
	env := []string{"DEBIAN_FRONTEND=nointeractive"}
	for _, v := range cfg.Unit.Variables {
		env = append(env, fmt.Sprintf("%s=%s", EnvName(v.Name), v.Value()))
	}

	entrypoint := cfg.Unit.Install.Entrypoint
	if entrypoint == "" {
		entrypoint = "bash"
	}

	containerCfg := &container.Config{
		Image:      cfg.Unit.Install.Image,
		Cmd:        []string{entrypoint, containerTarget + "/" + workspaceDir + "/" + scriptName},
		Env:        env,
		WorkingDir: containerTarget,
		Tty:        true,
	}

	hostCfg := &container.HostConfig{
		Binds:       []string{volumePath + ":" + containerTarget + ":rw"},
		NetworkMode: "host",
		Privileged:  true,
		AutoRemove:  true,
		Resources: container.Resources{
			Memory:     srv.MemoryLimit,
			MemorySwap: srv.MemoryLimit * 2,
		},
	}

	name := containerNamePattern.ReplaceAllString(srv.ID, "_") + installNameSuffix
	return i.docker.Create(ctx, name, containerCfg, hostCfg)
}

// streamAndWait starts the container, tails its output into the sink
// and blocks until exit. The install container allocates a TTY, so
// the log stream arrives unframed.
func (i *Installer) streamAndWait(ctx context.Context, containerID string, sink LineSink) (int64, error) {
	logs, err := i.docker.FollowLogs(ctx, containerID)
	if err != nil {
		return 0, err
	}
	defer logs.Close()

	if err := i.docker.Start(ctx, containerID); err != nil {
		return 0, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(logs)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if line != "" {
				sink(line)
			}
		}
	}()

	exitCode, err := i.docker.Wait(ctx, containerID)
	if err != nil {
		return 0, err
	}
	<-done

	return exitCode, nil
}

func (i *Installer) dumpFailureLog(volumePath string, lines []string, exitCode int64) {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Install process exited with exit code %d\n", exitCode)

	dumpPath := filepath.Join(volumePath, failureDumpName)
	if err := os.WriteFile(dumpPath, []byte(b.String()), 0644); err != nil {
		i.log.Error("could not write installation failure log",
			zap.String("path", dumpPath), zap.Error(err))
	}
}
