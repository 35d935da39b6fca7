package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/photosync/sync/internal/models"
)

// DeviceRepositoryPostgres is the PostgreSQL implementation of the device
// credential store
type DeviceRepositoryPostgres struct {
	db *sql.DB
}

// NewDeviceRepositoryPostgres creates a new DeviceRepositoryPostgres
func NewDeviceRepositoryPostgres(db *sql.DB) *DeviceRepositoryPostgres {
	return &DeviceRepositoryPostgres{db: db}
}

// Get retrieves a device by its ID
func (r *DeviceRepositoryPostgres) Get(ctx context.Context, id string) (*models.Device, error) {
	query := `
		SELECT id, device_name, platform, key_hash, registered_at, last_seen_at, is_active
		FROM devices WHERE id = $1
	`

	var device models.Device
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&device.ID,
		&device.DeviceName,
		&device.Platform,
		&device.KeyHash,
		&device.RegisteredAt,
		&device.LastSeenAt,
		&device.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// Add registers a new device
func (r *DeviceRepositoryPostgres) Add(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, device_name, platform, key_hash, registered_at, last_seen_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.DeviceName,
		device.Platform,
		device.KeyHash,
		device.RegisteredAt,
		device.LastSeenAt,
		device.IsActive,
	)
	return err
}

// Touch updates a device's last-seen timestamp
func (r *DeviceRepositoryPostgres) Touch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	return err
}
