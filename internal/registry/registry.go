// Package registry persists host profiles and their credential references.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/remote-host-console/backend/internal/model"
)

// Registry provides serialized CRUD access to host profiles. All mutations
// are written through to SQLite synchronously; reads never touch the network.
type Registry struct {
	db *sql.DB
}

// New creates a Registry backed by the given database.
func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Add validates and persists a new host profile together with its
// credential. Returns the host id, or ErrHostExists for a duplicate id.
func (r *Registry) Add(ctx context.Context, req *model.CreateHostRequest) (*model.HostProfile, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	exists, err := r.exists(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, model.ErrHostExists
	}

	credID := uuid.New().String()
	now := time.Now().UTC()

	profile := &model.HostProfile{
		ID:           req.ID,
		Address:      req.Address,
		Port:         req.Port,
		User:         req.User,
		CredentialID: credID,
		Label:        req.Label,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (id, password, key_path) VALUES (?, ?, ?)`,
		credID, req.Password, req.KeyPath,
	); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO hosts (id, address, port, user, credential_id, label, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.ID, profile.Address, profile.Port, profile.User,
		profile.CredentialID, profile.Label, profile.CreatedAt, profile.UpdatedAt,
	); err != nil {
		// Two concurrent Adds can both pass the existence check; the
		// loser hits the primary key constraint here.
		if isDuplicateKey(err) {
			return nil, model.ErrHostExists
		}
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return profile, nil
}

// Get retrieves a host profile by id.
func (r *Registry) Get(ctx context.Context, id string) (*model.HostProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, address, port, user, credential_id, label, created_at, updated_at
		 FROM hosts WHERE id = ?`, id)

	profile, err := scanHost(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrHostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}
	return profile, nil
}

// GetCredential fetches the secret material referenced by a host profile.
// Callers must not persist or log the returned value.
func (r *Registry) GetCredential(ctx context.Context, credentialID string) (*model.Credential, error) {
	cred := &model.Credential{ID: credentialID}
	var password, keyPath sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT password, key_path FROM credentials WHERE id = ?`, credentialID,
	).Scan(&password, &keyPath)
	if err == sql.ErrNoRows {
		return nil, model.ErrHostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	cred.Password = password.String
	cred.KeyPath = keyPath.String
	return cred, nil
}

// List retrieves all host profiles ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]*model.HostProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, address, port, user, credential_id, label, created_at, updated_at
		 FROM hosts ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var profiles []*model.HostProfile
	for rows.Next() {
		profile, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		profiles = append(profiles, profile)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hosts: %w", err)
	}
	return profiles, nil
}

// Update applies the provided fields to an existing profile. A new
// password or key path replaces the credential record in place, keeping
// the credential id stable.
func (r *Registry) Update(ctx context.Context, id string, req *model.UpdateHostRequest) (*model.HostProfile, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	profile, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Address != nil {
		profile.Address = *req.Address
	}
	if req.Port != nil {
		profile.Port = *req.Port
	}
	if req.User != nil {
		profile.User = *req.User
	}
	if req.Label != nil {
		profile.Label = *req.Label
	}
	profile.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE hosts SET address = ?, port = ?, user = ?, label = ?, updated_at = ? WHERE id = ?`,
		profile.Address, profile.Port, profile.User, profile.Label, profile.UpdatedAt, id,
	); err != nil {
		return nil, fmt.Errorf("failed to update host: %w", err)
	}

	if req.Password != nil || req.KeyPath != nil {
		password := ""
		keyPath := ""
		if req.Password != nil {
			password = *req.Password
		}
		if req.KeyPath != nil {
			keyPath = *req.KeyPath
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE credentials SET password = ?, key_path = ? WHERE id = ?`,
			password, keyPath, profile.CredentialID,
		); err != nil {
			return nil, fmt.Errorf("failed to update credential: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return profile, nil
}

// Remove deletes a host profile and its credential.
func (r *Registry) Remove(ctx context.Context, id string) error {
	profile, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete host: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrHostNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, profile.CredentialID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	return tx.Commit()
}

// isDuplicateKey reports whether err is a SQLite unique or primary key
// constraint violation.
func isDuplicateKey(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (r *Registry) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM hosts WHERE id = ? LIMIT 1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check host existence: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (*model.HostProfile, error) {
	profile := &model.HostProfile{}
	var label sql.NullString

	err := row.Scan(
		&profile.ID,
		&profile.Address,
		&profile.Port,
		&profile.User,
		&profile.CredentialID,
		&label,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	profile.Label = label.String
	return profile, nil
}
