package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "terrace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProfileRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProfile(ctx, Profile{
		ID:       "club-a",
		Email:    "fan@example.com",
		Password: "secret",
		Proxy:    "u:p@h:8080",
		Domain:   "tickets.example.com",
	}))

	p, err := s.GetProfile(ctx, "club-a")
	require.NoError(t, err)
	assert.Equal(t, "fan@example.com", p.Email)
	assert.Equal(t, "u:p@h:8080", p.Proxy)
	assert.Empty(t, p.RemoteProfileID)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestGetProfileNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestSetRemoteProfileID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProfile(ctx, Profile{ID: "club-a"}))
	require.NoError(t, s.SetRemoteProfileID(ctx, "club-a", "65a1b2c3d4e5f60718293a4b"))

	id, err := s.RemoteProfileID(ctx, "club-a")
	require.NoError(t, err)
	assert.Equal(t, "65a1b2c3d4e5f60718293a4b", id)

	err = s.SetRemoteProfileID(ctx, "nobody", "65a1b2c3d4e5f60718293a4b")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestUpsertPreservesRemoteProfileID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProfile(ctx, Profile{ID: "club-a", Email: "old@example.com"}))
	require.NoError(t, s.SetRemoteProfileID(ctx, "club-a", "65a1b2c3d4e5f60718293a4b"))

	// Re-seeding from config must not wipe the provisioning record.
	require.NoError(t, s.UpsertProfile(ctx, Profile{ID: "club-a", Email: "new@example.com"}))

	p, err := s.GetProfile(ctx, "club-a")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", p.Email)
	assert.Equal(t, "65a1b2c3d4e5f60718293a4b", p.RemoteProfileID)
}

func TestListProfilesOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.UpsertProfile(ctx, Profile{ID: id}))
	}

	profiles, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "alpha", profiles[0].ID)
	assert.Equal(t, "bravo", profiles[1].ID)
	assert.Equal(t, "charlie", profiles[2].ID)
}

func TestDeleteProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProfile(ctx, Profile{ID: "club-a"}))
	require.NoError(t, s.DeleteProfile(ctx, "club-a"))

	_, err := s.GetProfile(ctx, "club-a")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	// Deleting a missing row is not an error.
	assert.NoError(t, s.DeleteProfile(ctx, "club-a"))
}
