package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/attendance"
)

// CameraRecord represents a hall camera stored in the database
type CameraRecord struct {
	ID        string
	HallName  string
	Username  string
	Password  string
	Address   string
	CreatedAt time.Time
}

// SaveHall creates a hall if it does not exist yet. Names are stored normalised.
func (d *Database) SaveHall(ctx context.Context, name string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO halls (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		attendance.NormalizeHallName(name), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save hall: %w", err)
	}
	return nil
}

// ListHalls returns all hall names in order
func (d *Database) ListHalls(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name FROM halls ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list halls: %w", err)
	}
	defer rows.Close()

	var halls []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan hall: %w", err)
		}
		halls = append(halls, name)
	}
	return halls, rows.Err()
}

// SaveCamera saves or updates a camera. The camera's hall must exist.
func (d *Database) SaveCamera(ctx context.Context, cam *CameraRecord) error {
	if cam.CreatedAt.IsZero() {
		cam.CreatedAt = time.Now().UTC()
	}
	cam.HallName = attendance.NormalizeHallName(cam.HallName)

	query := `INSERT INTO cameras (id, hall_name, username, password, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hall_name = excluded.hall_name,
			username = excluded.username,
			password = excluded.password,
			address = excluded.address`

	_, err := d.db.ExecContext(ctx, query, cam.ID, cam.HallName, cam.Username, cam.Password, cam.Address, cam.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// GetCamera retrieves a camera by ID
func (d *Database) GetCamera(ctx context.Context, id string) (*CameraRecord, error) {
	query := `SELECT id, hall_name, username, password, address, created_at FROM cameras WHERE id = ?`

	var cam CameraRecord
	err := d.db.QueryRowContext(ctx, query, id).Scan(&cam.ID, &cam.HallName, &cam.Username, &cam.Password, &cam.Address, &cam.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("camera %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return &cam, nil
}

// DeleteCamera deletes a camera by ID
func (d *Database) DeleteCamera(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM cameras WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	return nil
}

// GetCameras returns the cameras installed in hallName, oldest first.
// An unknown hall yields an empty list.
func (d *Database) GetCameras(ctx context.Context, hallName string) ([]attendance.CameraEndpoint, error) {
	query := `SELECT id, username, password, address FROM cameras
		WHERE hall_name = ? ORDER BY created_at, id`

	rows, err := d.db.QueryContext(ctx, query, attendance.NormalizeHallName(hallName))
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []attendance.CameraEndpoint
	for rows.Next() {
		var cam attendance.CameraEndpoint
		if err := rows.Scan(&cam.ID, &cam.Username, &cam.Password, &cam.Address); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, cam)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cameras, nil
}
