package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/photosync/sync/internal/middleware"
	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/observability"
	"github.com/photosync/sync/internal/services"
)

// SyncHandler handles mutation submission and sync status endpoints
type SyncHandler struct {
	applyService *services.ApplyService
	logger       *observability.Logger
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(applyService *services.ApplyService) *SyncHandler {
	return &SyncHandler{
		applyService: applyService,
		logger:       observability.GetLogger().WithField("component", "sync_handler"),
	}
}

// PostMutations applies a batch of client mutations
// @Summary Submit mutations
// @Description Apply a batch of client mutations against the authoritative store, returning a per-mutation verdict
// @Tags sync
// @Accept json
// @Produce json
// @Param request body models.SyncMutationsRequest true "Mutation batch"
// @Success 200 {object} models.SyncMutationsResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/sync/mutations [post]
func (h *SyncHandler) PostMutations(w http.ResponseWriter, r *http.Request) {
	var req models.SyncMutationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Mutations) == 0 {
		writeError(w, http.StatusBadRequest, "no mutations submitted")
		return
	}

	// The authenticated device is authoritative for feed exclusion,
	// whatever the body claims.
	if device := middleware.GetDeviceFromContext(r.Context()); device != nil {
		req.DeviceID = device.ID
	}

	resp, err := h.applyService.Apply(r.Context(), &req)
	if err != nil {
		h.logger.WithContext(r.Context()).Errorf("failed to apply mutations: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to apply mutations")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetStatus reports the authoritative store's summary state
// @Summary Sync status
// @Description Entity counts and the current maximum version of the authoritative store
// @Tags sync
// @Produce json
// @Success 200 {object} models.SyncStatusResponse
// @Security ApiKeyAuth
// @Router /api/sync/status [get]
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.applyService.Status(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Errorf("failed to read sync status: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: message})
}
