package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wsn-portal/provisioning-server/internal/models"
)

const userColumns = `id, created_at, updated_at, wsn_id, email, first_name,
	last_name, password_hash, is_admin, is_active, hotspot_synced,
	hotspot_error, last_sync_at, router_password, router_profile,
	router_disabled, total_bytes_in, total_bytes_out, last_seen_at`

// CreateUser creates a new user
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
        INSERT INTO users (
            id, created_at, updated_at, wsn_id, email, first_name, last_name,
            password_hash, is_admin, is_active, hotspot_synced, router_password,
            router_profile, router_disabled
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.getDB().ExecContext(ctx, query,
		user.ID, user.CreatedAt, user.UpdatedAt, user.WsnID, user.Email,
		user.FirstName, user.LastName, user.PasswordHash, user.IsAdmin,
		user.IsActive, user.HotspotSynced, user.RouterPassword,
		user.RouterProfile, user.RouterDisabled,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			if strings.Contains(pqErr.Constraint, "wsn_id") {
				return ErrDuplicateWsnID
			}
			return ErrDuplicateKey
		}
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// scanUser scans a user row
func scanUser(row interface {
	Scan(dest ...interface{}) error
}) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.WsnID, &user.Email,
		&user.FirstName, &user.LastName, &user.PasswordHash, &user.IsAdmin,
		&user.IsActive, &user.HotspotSynced, &user.HotspotError,
		&user.LastSyncAt, &user.RouterPassword, &user.RouterProfile,
		&user.RouterDisabled, &user.TotalBytesIn, &user.TotalBytesOut,
		&user.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser gets a user by id
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.getDB().QueryRowContext(ctx, query, id))
}

// GetUserByEmail gets a user by email
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.getDB().QueryRowContext(ctx, query, email))
}

// GetUserByWsnID gets a user by hotspot account name
func (s *PostgresStore) GetUserByWsnID(ctx context.Context, wsnID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE wsn_id = $1`
	return scanUser(s.getDB().QueryRowContext(ctx, query, wsnID))
}

// UpdateUser updates a user's profile fields
func (s *PostgresStore) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
        UPDATE users SET
            updated_at = $2, email = $3, first_name = $4, last_name = $5,
            password_hash = $6, is_admin = $7, is_active = $8
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		user.ID, user.UpdatedAt, user.Email, user.FirstName, user.LastName,
		user.PasswordHash, user.IsAdmin, user.IsActive,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListUsers lists users with pagination
func (s *PostgresStore) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}

	return users, total, rows.Err()
}

// NextWsnID allocates the next sequential hotspot account name
func (s *PostgresStore) NextWsnID(ctx context.Context) (string, error) {
	query := `
        SELECT COALESCE(MAX(CAST(SUBSTRING(wsn_id FROM 4) AS INTEGER)), 0)
        FROM users
        WHERE wsn_id ~ '^wsn[0-9]+$'`

	var max int
	if err := s.getDB().QueryRowContext(ctx, query).Scan(&max); err != nil {
		return "", fmt.Errorf("next wsn id: %w", err)
	}

	return fmt.Sprintf("wsn%03d", max+1), nil
}

// UpdateUserSyncState marks the last provisioning attempt as successful
// and records the synced credentials. Called only by the worker.
func (s *PostgresStore) UpdateUserSyncState(ctx context.Context, id uuid.UUID, update models.SyncStateUpdate) error {
	query := `
        UPDATE users SET
            updated_at = NOW(),
            hotspot_synced = TRUE,
            hotspot_error = NULL,
            last_sync_at = NOW(),
            router_password = COALESCE($2, router_password),
            router_profile = COALESCE($3, router_profile),
            router_disabled = COALESCE($4, router_disabled)
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		id, update.RouterPassword, update.RouterProfile, update.RouterDisabled,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SetUserSyncError marks the user as out of sync with a human-readable
// reason. Called by the worker when a job exhausts its retries.
func (s *PostgresStore) SetUserSyncError(ctx context.Context, id uuid.UUID, message string) error {
	query := `
        UPDATE users SET
            updated_at = NOW(),
            hotspot_synced = FALSE,
            hotspot_error = $2,
            last_sync_at = NOW()
        WHERE id = $1`

	_, err := s.getDB().ExecContext(ctx, query, id, message)
	return err
}

// UpdateUserUsage updates cumulative traffic counters from the device
func (s *PostgresStore) UpdateUserUsage(ctx context.Context, id uuid.UUID, bytesIn, bytesOut int64) error {
	query := `
        UPDATE users SET
            updated_at = NOW(),
            total_bytes_in = $2,
            total_bytes_out = $3,
            last_seen_at = NOW()
        WHERE id = $1`

	_, err := s.getDB().ExecContext(ctx, query, id, bytesIn, bytesOut)
	return err
}

// AppendSessionSnapshot stores a usage snapshot and prunes history
// beyond historyLimit rows for the user. Insert and prune run in one
// transaction so a crash between them cannot leave extra rows behind.
func (s *PostgresStore) AppendSessionSnapshot(ctx context.Context, snap *models.SessionSnapshot, historyLimit int) error {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	if s.tx != nil {
		return appendSessionSnapshot(ctx, s.tx, snap, historyLimit)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := appendSessionSnapshot(ctx, tx, snap, historyLimit); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func appendSessionSnapshot(ctx context.Context, tx *sql.Tx, snap *models.SessionSnapshot, historyLimit int) error {
	insert := `
        INSERT INTO session_snapshots (
            id, user_id, session_id, address, mac, uptime,
            bytes_in, bytes_out, login_by, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := tx.ExecContext(ctx, insert,
		snap.ID, snap.UserID, snap.SessionID, snap.Address, snap.MAC,
		snap.Uptime, snap.BytesIn, snap.BytesOut, snap.LoginBy, snap.CreatedAt,
	); err != nil {
		return err
	}

	if historyLimit <= 0 {
		return nil
	}

	prune := `
        DELETE FROM session_snapshots
        WHERE user_id = $1 AND id NOT IN (
            SELECT id FROM session_snapshots
            WHERE user_id = $1
            ORDER BY created_at DESC
            LIMIT $2
        )`

	_, err := tx.ExecContext(ctx, prune, snap.UserID, historyLimit)
	return err
}

// ListSessionSnapshots lists the most recent usage snapshots for a user
func (s *PostgresStore) ListSessionSnapshots(ctx context.Context, userID uuid.UUID, limit int) ([]*models.SessionSnapshot, error) {
	query := `
        SELECT id, user_id, session_id, address, mac, uptime,
               bytes_in, bytes_out, login_by, created_at
        FROM session_snapshots
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2`

	rows, err := s.getDB().QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*models.SessionSnapshot
	for rows.Next() {
		snap := &models.SessionSnapshot{}
		if err := rows.Scan(
			&snap.ID, &snap.UserID, &snap.SessionID, &snap.Address, &snap.MAC,
			&snap.Uptime, &snap.BytesIn, &snap.BytesOut, &snap.LoginBy,
			&snap.CreatedAt,
		); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}
