package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (Device, error)

	// GetByAddress retrieves a device by its network address.
	// Returns ErrDeviceNotFound if no device has that address.
	GetByAddress(ctx context.Context, address string) (Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Upsert inserts the device or updates the existing row with the same ID.
	Upsert(ctx context.Context, device Device) error

	// Delete removes a device and its persisted state.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// SetEnabled flips the enabled flag for a device.
	// Returns ErrDeviceNotFound if the device does not exist.
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// SetStateField writes one derived state field for a device.
	// Optimised for the frequent small writes produced by polling.
	SetStateField(ctx context.Context, deviceID, field, value string) error

	// GetStateFields retrieves all persisted state fields for a device.
	GetStateFields(ctx context.Context, deviceID string) ([]StateField, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = "id, address, name, enabled, poll_interval_ms, source, created_at, updated_at"

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (Device, error) {
	query := "SELECT " + deviceColumns + " FROM devices WHERE id = ?"

	row := r.db.QueryRowContext(ctx, query, id)
	dev, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("querying device by id: %w", err)
	}
	return dev, nil
}

// GetByAddress retrieves a device by its network address.
func (r *SQLiteRepository) GetByAddress(ctx context.Context, address string) (Device, error) {
	query := "SELECT " + deviceColumns + " FROM devices WHERE address = ?"

	row := r.db.QueryRowContext(ctx, query, address)
	dev, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("querying device by address: %w", err)
	}
	return dev, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := "SELECT " + deviceColumns + " FROM devices ORDER BY name"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, dev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// Upsert inserts the device or updates the existing row with the same ID.
func (r *SQLiteRepository) Upsert(ctx context.Context, device Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (id, address, name, enabled, poll_interval_ms, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			address = excluded.address,
			name = excluded.name,
			enabled = excluded.enabled,
			poll_interval_ms = excluded.poll_interval_ms,
			source = excluded.source,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.Address,
		device.Name,
		boolToInt(device.Enabled),
		device.PollInterval.Milliseconds(),
		string(device.Source),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		// The address column carries a UNIQUE constraint; since IDs are
		// derived from addresses this only fires when two different IDs
		// claim the same address.
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("upserting device: %w", err)
	}

	return nil
}

// Delete removes a device by ID. Persisted state rows are removed by the
// ON DELETE CASCADE on device_state.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// SetEnabled flips the enabled flag for a device.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	now := time.Now().UTC()
	query := "UPDATE devices SET enabled = ?, updated_at = ? WHERE id = ?"

	result, err := r.db.ExecContext(ctx, query, boolToInt(enabled), now.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating device enabled: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// SetStateField writes one derived state field for a device.
func (r *SQLiteRepository) SetStateField(ctx context.Context, deviceID, field, value string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO device_state (device_id, field, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, field) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query, deviceID, field, value, now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing state field %s: %w", field, err)
	}

	return nil
}

// GetStateFields retrieves all persisted state fields for a device.
func (r *SQLiteRepository) GetStateFields(ctx context.Context, deviceID string) ([]StateField, error) {
	query := "SELECT field, value, updated_at FROM device_state WHERE device_id = ? ORDER BY field"

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying device state: %w", err)
	}
	defer rows.Close()

	var fields []StateField
	for rows.Next() {
		var f StateField
		var updatedAt string
		if err := rows.Scan(&f.Field, &f.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning state field: %w", err)
		}
		f.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing state updated_at: %w", err)
		}
		fields = append(fields, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state fields: %w", err)
	}

	return fields, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (Device, error) {
	var d Device
	var enabled int
	var pollIntervalMs int64
	var source string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Address,
		&d.Name,
		&enabled,
		&pollIntervalMs,
		&source,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Device{}, err
	}

	d.Enabled = enabled != 0
	d.PollInterval = time.Duration(pollIntervalMs) * time.Millisecond
	d.Source = Source(source)

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return Device{}, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return Device{}, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return d, nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
