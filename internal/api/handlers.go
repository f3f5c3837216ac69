package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"krypton/internal/cargo"
	"krypton/internal/docker"
	"krypton/internal/domain"
	"krypton/internal/server"

	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps a lifecycle error onto the HTTP contract.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type createServerRequest struct {
	ServerID        string            `json:"serverId"`
	ValidationToken string            `json:"validationToken"`
	Name            string            `json:"name"`
	MemoryLimit     int64             `json:"memoryLimit"`
	CPULimit        float64           `json:"cpuLimit"`
	Allocation      domain.Allocation `json:"allocation"`
}

func (api *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ServerID == "" {
		writeError(w, http.StatusBadRequest, "serverId is required")
		return
	}

	srv, err := api.Manager.Create(server.CreateRequest{
		ServerID:    req.ServerID,
		Name:        req.Name,
		MemoryLimit: req.MemoryLimit,
		CPULimit:    req.CPULimit,
		Allocation:  req.Allocation,
	})
	if err != nil {
		api.log.Error("create failed", zap.String("server", req.ServerID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              srv.ID,
		"name":            srv.Name,
		"state":           "installing",
		"validationToken": req.ValidationToken,
	})
}

func (api *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := api.Manager.ListServers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if servers == nil {
		servers = []domain.Server{}
	}
	writeJSON(w, http.StatusOK, servers)
}

func (api *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	srv, err := api.Manager.GetServer(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	body := struct {
		*domain.Server
		Status *docker.ContainerState `json:"status,omitempty"`
	}{Server: srv}

	if srv.ContainerID != "" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if state, err := api.Manager.LiveStatus(ctx, srv); err == nil {
			body.Status = state
		}
	}

	writeJSON(w, http.StatusOK, body)
}

func (api *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req server.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ServerID != "" && req.ServerID != id {
		writeError(w, http.StatusBadRequest, "server id mismatch")
		return
	}

	srv, err := api.Manager.Update(id, req)
	if err != nil {
		api.log.Error("update failed", zap.String("server", id), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "server updated",
		"server":  srv,
	})
}

func (api *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := api.Manager.Delete(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *Server) handleReinstallServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := api.Manager.GetServer(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	go func() {
		if err := api.Manager.Reinstall(id); err != nil {
			api.log.Error("reinstall failed", zap.String("server", id), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"message": "reinstall started"})
}

type shipCargoRequest struct {
	Cargo []domain.CargoFile `json:"cargo"`
}

func (api *Server) handleShipCargo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	srv, err := api.Manager.GetServer(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	var req shipCargoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cargo == nil {
		writeError(w, http.StatusBadRequest, "malformed cargo manifest")
		return
	}
	for _, entry := range req.Cargo {
		if entry.URL == "" || entry.TargetPath == "" {
			writeError(w, http.StatusBadRequest, "cargo entries need url and targetPath")
			return
		}
	}

	fetcher := cargo.NewFetcher(api.log)
	if err := fetcher.Ship(r.Context(), api.Manager.VolumePath(srv.ID), req.Cargo, nil); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "cargo shipped"})
}

func (api *Server) handlePowerAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	action, err := server.ParsePowerAction(r.PathValue("action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	srv, err := api.Manager.Power(r.Context(), id, action)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "power action applied",
		"state":   srv.State,
	})
}
