package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/photosync/sync/internal/models"
)

// DeviceRepository handles device credential persistence
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Get retrieves a device by its ID
func (r *DeviceRepository) Get(ctx context.Context, id string) (*models.Device, error) {
	query := `
		SELECT id, device_name, platform, key_hash, registered_at, last_seen_at, is_active
		FROM devices WHERE id = ?
	`

	var device models.Device
	var isActive int
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&device.ID,
		&device.DeviceName,
		&device.Platform,
		&device.KeyHash,
		&device.RegisteredAt,
		&device.LastSeenAt,
		&isActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	device.IsActive = isActive != 0
	return &device, nil
}

// Add registers a new device
func (r *DeviceRepository) Add(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, device_name, platform, key_hash, registered_at, last_seen_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.DeviceName,
		device.Platform,
		device.KeyHash,
		device.RegisteredAt,
		device.LastSeenAt,
		boolToInt(device.IsActive),
	)
	return err
}

// Touch updates a device's last-seen timestamp
func (r *DeviceRepository) Touch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return err
}
