package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/photosync/sync/internal/config"
	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/repository"
)

type contextKey string

const DeviceContextKey contextKey = "device"

// GetDeviceFromContext retrieves the authenticated device from request context
func GetDeviceFromContext(ctx context.Context) *models.Device {
	if device, ok := ctx.Value(DeviceContextKey).(*models.Device); ok {
		return device
	}
	return nil
}

// DeviceAuth creates middleware authenticating sync requests by device id and
// bearer sync key, read from the headers named in the security config.
// Registration and health endpoints are exempt so a fresh device can
// bootstrap and a client can probe connectivity.
func DeviceAuth(deviceRepo repository.DeviceRepo, sec config.Security) func(http.Handler) http.Handler {
	deviceHeader := sec.DeviceHeader
	if deviceHeader == "" {
		deviceHeader = "X-Device-ID"
	}
	bearerHeader := sec.BearerHeader
	if bearerHeader == "" {
		bearerHeader = "Authorization"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "/health" || path == "/api/devices/register" {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(path, "/api") {
				next.ServeHTTP(w, r)
				return
			}

			deviceID := r.Header.Get(deviceHeader)
			if deviceID == "" {
				writeAuthError(w, http.StatusUnauthorized, "device id is required")
				return
			}

			syncKey := bearerToken(r, bearerHeader)
			if syncKey == "" {
				writeAuthError(w, http.StatusUnauthorized, "sync key is required")
				return
			}

			device, err := deviceRepo.Get(r.Context(), deviceID)
			if err != nil {
				writeAuthError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if device == nil {
				writeAuthError(w, http.StatusUnauthorized, "unknown device")
				return
			}

			if !device.IsActive {
				writeAuthError(w, http.StatusForbidden, "device is disabled")
				return
			}
			if !device.CheckKey(syncKey) {
				writeAuthError(w, http.StatusUnauthorized, "invalid sync key")
				return
			}

			// Update last seen (async, don't wait)
			go deviceRepo.Touch(context.Background(), device.ID)

			ctx := context.WithValue(r.Context(), DeviceContextKey, device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request, header string) string {
	auth := r.Header.Get(header)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: message})
}
