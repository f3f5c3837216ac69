package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"krypton/internal/api"
	"krypton/internal/app"
	"krypton/internal/cargo"
	"krypton/internal/config"
	"krypton/internal/console"
	"krypton/internal/docker"
	"krypton/internal/installer"
	"krypton/internal/logger"
	"krypton/internal/panel"
	"krypton/internal/server"
	"krypton/internal/storage"
	"krypton/internal/ws"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const version = "1.0.0"

var configDir string

var rootCmd = &cobra.Command{
	Use:   "kryptond",
	Short: "Krypton game server node daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("kryptond " + version)
	},
}

func main() {
	defaultDir := "/etc/krypton"
	if userConfigDir, err := os.UserConfigDir(); err == nil && os.Geteuid() != 0 {
		defaultDir = filepath.Join(userConfigDir, "krypton")
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultDir, "directory holding config.json, the database and server volumes")
	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	log, err := logger.New(cfg.LogJSON)
	if err != nil {
		return fmt.Errorf("could not build logger: %w", err)
	}
	defer log.Sync()

	logNodeSummary(log)

	if err := os.MkdirAll(cfg.VolumesPath, 0755); err != nil {
		return fmt.Errorf("could not create volumes directory: %w", err)
	}

	store, err := storage.NewGormStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}

	dockerClient, err := docker.NewClient()
	if err != nil {
		return err
	}

	panelClient := panel.NewClient(cfg.PanelURL, log)
	fetcher := cargo.NewFetcher(log)
	inst := installer.New(dockerClient, fetcher, log)
	rings := console.NewRingSet()

	manager := server.NewManager(store, dockerClient, panelClient, inst, rings, cfg.VolumesPath, log)

	cache := ws.NewValidationCache()
	cache.StartSweeper()

	registry := ws.NewRegistry(cfg.MaxConnectionsPerIP, log)
	manager.SetNotifier(registry)

	socket := ws.NewHandler(registry, cache, panelClient, manager, dockerClient, rings, log)

	if err := manager.Reconcile(context.Background()); err != nil {
		log.Warn("could not reconcile server states", zap.Error(err))
	}

	container := &app.Container{
		Config:  cfg,
		Log:     log,
		Store:   store,
		Manager: manager,
		Socket:  socket,
		Cache:   cache,
	}

	apiServer := api.NewAPIServer(container)
	return apiServer.Start(fmt.Sprintf(":%d", cfg.ListenPort))
}

// logNodeSummary leaves an operator breadcrumb about the host this
// node runs on.
func logNodeSummary(log *zap.Logger) {
	fields := []zap.Field{}
	if info, err := host.Info(); err == nil {
		fields = append(fields, zap.String("hostname", info.Hostname), zap.String("os", info.Platform))
	}
	if count, err := cpu.Counts(true); err == nil {
		fields = append(fields, zap.Int("cpus", count))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields, zap.Uint64("memory_total", vm.Total))
	}
	log.Info("node summary", fields...)
}
