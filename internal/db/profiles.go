package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrProfileNotFound is returned when a profile id has no row.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is a logical ticketing identity. RemoteProfileID is empty until
// the first successful provisioning records one.
type Profile struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Password        string    `json:"-"`
	Proxy           string    `json:"proxy,omitempty"`
	Domain          string    `json:"domain"`
	RemoteProfileID string    `json:"remote_profile_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UpsertProfile inserts or updates a profile's credentials and proxy.
// An existing remote_profile_id is preserved so re-seeding from config
// never orphans a provisioned remote profile.
func (s *Store) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, password, proxy, domain)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			password = excluded.password,
			proxy = excluded.proxy,
			domain = excluded.domain,
			updated_at = CURRENT_TIMESTAMP`,
		p.ID, p.Email, p.Password, p.Proxy, p.Domain)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return nil
}

// GetProfile returns a profile by id.
func (s *Store) GetProfile(ctx context.Context, id string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password, proxy, domain, remote_profile_id, created_at, updated_at
		FROM profiles WHERE id = ?`, id)

	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.Password, &p.Proxy, &p.Domain,
		&p.RemoteProfileID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	return &p, nil
}

// SetRemoteProfileID durably records the remote profile id for a profile.
// The lifecycle manager only ever deletes remote profiles using ids read
// back from here, never ids recovered from live instance objects.
func (s *Store) SetRemoteProfileID(ctx context.Context, id, remoteID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET remote_profile_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, remoteID, id)
	if err != nil {
		return fmt.Errorf("set remote profile id for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return nil
}

// RemoteProfileID returns the recorded remote profile id, or empty if none.
func (s *Store) RemoteProfileID(ctx context.Context, id string) (string, error) {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return "", err
	}
	return p.RemoteProfileID, nil
}

// ListProfiles returns all profiles ordered by id.
func (s *Store) ListProfiles(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, password, proxy, domain, remote_profile_id, created_at, updated_at
		FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Email, &p.Password, &p.Proxy, &p.Domain,
			&p.RemoteProfileID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, &p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a profile row.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	return nil
}
