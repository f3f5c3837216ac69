package api

import (
	"fmt"
	"net/http"

	"krypton/internal/app"
	"krypton/internal/server"
	"krypton/internal/ws"

	"go.uber.org/zap"
)

type Server struct {
	Manager *server.Manager
	Socket  *ws.Handler

	apiKey string
	log    *zap.Logger
}

func NewAPIServer(container *app.Container) *Server {
	return &Server{
		Manager: container.Manager,
		Socket:  container.Socket,
		apiKey:  container.Config.APIKey,
		log:     container.Log.Named("api"),
	}
}

func (api *Server) Start(listenAddr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/state", api.handleState)

	mux.HandleFunc("POST /api/v1/servers", api.requireKey(api.handleCreateServer))
	mux.HandleFunc("GET /api/v1/servers", api.requireKey(api.handleListServers))
	mux.HandleFunc("GET /api/v1/servers/{id}", api.requireKey(api.handleGetServer))
	mux.HandleFunc("PATCH /api/v1/servers/{id}", api.requireKey(api.handleUpdateServer))
	mux.HandleFunc("DELETE /api/v1/servers/{id}", api.requireKey(api.handleDeleteServer))
	mux.HandleFunc("POST /api/v1/servers/{id}/reinstall", api.requireKey(api.handleReinstallServer))
	mux.HandleFunc("POST /api/v1/servers/{id}/cargo/ship", api.requireKey(api.handleShipCargo))
	mux.HandleFunc("POST /api/v1/servers/{id}/power/{action}", api.requireKey(api.handlePowerAction))

	mux.HandleFunc("GET /", api.handleSocket)

	handler := api.corsMiddleware(mux)

	api.log.Info("api listening", zap.String("addr", listenAddr))
	return http.ListenAndServe(listenAddr, handler)
}

// handleSocket upgrades live console connections; plain GETs on the
// root get a terse liveness answer instead.
func (api *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") == "websocket" {
		api.Socket.ServeWS(w, r)
		return
	}
	fmt.Fprintln(w, "Krypton Daemon")
}

func (api *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (api *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireKey guards the server management routes with the static
// panel-issued key.
func (api *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api.apiKey == "" || r.Header.Get("X-API-Key") != api.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next(w, r)
	}
}
