package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Device represents a registered client device allowed to sync. The sync
// credential is stored as a bcrypt hash; the plaintext key is returned once
// at registration and never persisted.
type Device struct {
	ID           string    `json:"id"`
	DeviceName   string    `json:"deviceName"`
	Platform     string    `json:"platform"` // "ios" or "android"
	KeyHash      string    `json:"-"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	IsActive     bool      `json:"isActive"`
}

// NewDevice creates a new device registration, hashing the given sync key
func NewDevice(deviceName, platform, syncKey string) (*Device, error) {
	deviceName = strings.TrimSpace(deviceName)
	platform = strings.TrimSpace(strings.ToLower(platform))

	if deviceName == "" {
		return nil, SyncError{"device name cannot be empty"}
	}
	if platform != "ios" && platform != "android" {
		return nil, SyncError{"platform must be ios or android"}
	}
	if len(syncKey) < 32 {
		return nil, SyncError{"sync key must be at least 32 characters"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(syncKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Device{
		ID:           uuid.New().String(),
		DeviceName:   deviceName,
		Platform:     platform,
		KeyHash:      string(hash),
		RegisteredAt: now,
		LastSeenAt:   now,
		IsActive:     true,
	}, nil
}

// CheckKey verifies a presented sync key against the stored hash
func (d *Device) CheckKey(syncKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(d.KeyHash), []byte(syncKey)) == nil
}

// RegisterDeviceRequest for POST /api/devices/register
type RegisterDeviceRequest struct {
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
}

// RegisterDeviceResponse carries the one-time plaintext sync key; it is not
// recoverable afterwards
type RegisterDeviceResponse struct {
	Device  *Device `json:"device"`
	SyncKey string  `json:"syncKey"`
}
