package app

import (
	"krypton/internal/config"
	"krypton/internal/server"
	"krypton/internal/storage"
	"krypton/internal/ws"

	"go.uber.org/zap"
)

// Container wires the daemon's long-lived components together.
type Container struct {
	Config  *config.Config
	Log     *zap.Logger
	Store   *storage.GormStore
	Manager *server.Manager
	Socket  *ws.Handler
	Cache   *ws.ValidationCache
}
