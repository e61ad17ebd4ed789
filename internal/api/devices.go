package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tvbridge/core/internal/bridges/androidtv"
	"github.com/tvbridge/core/internal/device"
)

// deviceResponse is the API representation of a managed device.
type deviceResponse struct {
	ID           string `json:"id"`
	Address      string `json:"address"`
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	PollInterval string `json:"poll_interval"`
	Source       string `json:"source"`
	Connection   string `json:"connection"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func (s *Server) deviceResponse(dev device.Device) deviceResponse {
	conn, err := s.registry.SessionState(dev.ID)
	if err != nil {
		conn = androidtv.StateDisconnected
	}
	return deviceResponse{
		ID:           dev.ID,
		Address:      dev.Address,
		Name:         dev.Name,
		Enabled:      dev.Enabled,
		PollInterval: dev.PollInterval.String(),
		Source:       string(dev.Source),
		Connection:   string(conn),
		CreatedAt:    dev.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    dev.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListDevices returns all managed devices with their connection
// states.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	out := make([]deviceResponse, 0, len(devices))
	for _, dev := range devices {
		out = append(out, s.deviceResponse(dev))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// createDeviceRequest is the payload for adding a device.
type createDeviceRequest struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	Enabled      *bool  `json:"enabled"`
	PollInterval string `json:"poll_interval"`
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Address == "" {
		writeBadRequest(w, "address is required")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	var pollInterval time.Duration
	if req.PollInterval != "" {
		var err error
		pollInterval, err = time.ParseDuration(req.PollInterval)
		if err != nil || pollInterval < 0 {
			writeBadRequest(w, "invalid poll_interval")
			return
		}
	}

	dev, err := s.registry.UpsertConfigured(r.Context(), req.Address, req.Name, enabled, pollInterval)
	if err != nil {
		if errors.Is(err, device.ErrInvalidAddress) {
			writeBadRequest(w, "invalid address, expected host:port")
			return
		}
		writeInternalError(w, "failed to store device")
		return
	}

	writeJSON(w, http.StatusCreated, s.deviceResponse(dev))
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, err := s.registry.Get(id)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, s.deviceResponse(dev))
}

// updateDeviceRequest is the payload for updating a device. Only the
// enabled flag is mutable; address changes are a delete and re-add.
type updateDeviceRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleUpdateDevice enables or disables a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	if err := s.registry.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		if errors.Is(err, androidtv.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to update device")
		return
	}

	dev, err := s.registry.Get(id)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, s.deviceResponse(dev))
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Remove(r.Context(), id); err != nil {
		if errors.Is(err, androidtv.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to remove device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetDeviceState returns the persisted state fields for a device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.registry.Get(id); err != nil {
		writeNotFound(w, "device not found")
		return
	}

	fields, err := s.repo.GetStateFields(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to load device state")
		return
	}

	state := make(map[string]string, len(fields))
	var updatedAt time.Time
	for _, f := range fields {
		state[f.Field] = f.Value
		if f.UpdatedAt.After(updatedAt) {
			updatedAt = f.UpdatedAt
		}
	}

	resp := map[string]any{
		"device_id": id,
		"state":     state,
	}
	if !updatedAt.IsZero() {
		resp["updated_at"] = updatedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// commandRequest is the payload for the direct command endpoint. It
// mirrors the MQTT command message, minus the ID (generated here).
type commandRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
}

// handleDeviceCommand executes a command on a device synchronously.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	msg := &androidtv.CommandMessage{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Command:    req.Command,
		Parameters: req.Parameters,
		Source:     "api",
	}

	if err := s.registry.ExecuteCommand(r.Context(), id, msg); err != nil {
		status, code := commandErrorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"command_id": msg.ID,
		"status":     "accepted",
	})
}

// commandErrorStatus maps command execution errors to HTTP responses.
func commandErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, androidtv.ErrDeviceNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, androidtv.ErrDeviceDisabled):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, androidtv.ErrNotConnected),
		errors.Is(err, androidtv.ErrSessionClosed):
		return http.StatusServiceUnavailable, "device_unreachable"
	case errors.Is(err, androidtv.ErrCommandTimeout):
		return http.StatusGatewayTimeout, "device_timeout"
	default:
		return http.StatusBadRequest, ErrCodeBadRequest
	}
}
