package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/observability"
	"github.com/photosync/sync/internal/repository"
)

// DeviceHandler handles device registration endpoints
type DeviceHandler struct {
	deviceRepo repository.DeviceRepo
	logger     *observability.Logger
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(deviceRepo repository.DeviceRepo) *DeviceHandler {
	return &DeviceHandler{
		deviceRepo: deviceRepo,
		logger:     observability.GetLogger().WithField("component", "device_handler"),
	}
}

// RegisterDevice registers a new device for sync access
// @Summary Register device
// @Description Register a device and receive its one-time sync key. The key is not recoverable afterwards.
// @Tags devices
// @Accept json
// @Produce json
// @Param request body models.RegisterDeviceRequest true "Device info"
// @Success 200 {object} models.RegisterDeviceResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/devices/register [post]
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	syncKey, err := generateSyncKey()
	if err != nil {
		h.logger.Errorf("failed to generate sync key: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to generate sync key")
		return
	}

	device, err := models.NewDevice(req.DeviceName, req.Platform, syncKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.deviceRepo.Add(r.Context(), device); err != nil {
		h.logger.Errorf("failed to store device: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	h.logger.WithField("device_id", device.ID).Infof("device registered: %s (%s)", device.DeviceName, device.Platform)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.RegisterDeviceResponse{
		Device:  device,
		SyncKey: syncKey,
	})
}

func generateSyncKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
