// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licensegate/internal/database"
	"github.com/autobrr/licensegate/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewService(db, "test-session-secret", nil)
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$")

	ok, err := VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("anything", "not-a-hash")
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestNeedsRehash(t *testing.T) {
	current, err := HashPassword("password123")
	require.NoError(t, err)

	weak, err := hashWithParams("password123", &Argon2Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		hash string
		want bool
	}{
		{name: "current_params", hash: current, want: false},
		{name: "weaker_params", hash: weak, want: true},
		{name: "garbage", hash: "$bcrypt$whatever", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsRehash(tt.hash))
		})
	}
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	ctx := t.Context()
	svc := newTestService(t)

	_, err := svc.SetupUser(ctx, "admin", "password123")
	require.NoError(t, err)

	weak, err := hashWithParams("password123", &Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	require.NoError(t, svc.users.UpdatePassword(ctx, weak))

	_, err = svc.Login(ctx, "admin", "password123")
	require.NoError(t, err)

	user, err := svc.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, NeedsRehash(user.PasswordHash))
}

func TestSetupAndLogin(t *testing.T) {
	ctx := t.Context()
	svc := newTestService(t)

	done, err := svc.IsSetupComplete(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = svc.Login(ctx, "admin", "password123")
	assert.ErrorIs(t, err, ErrNotSetup)

	_, err = svc.SetupUser(ctx, "admin", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	user, err := svc.SetupUser(ctx, " admin ", "password123")
	require.NoError(t, err)
	assert.Equal(t, "admin", user.Username)

	_, err = svc.SetupUser(ctx, "second", "password123")
	assert.ErrorIs(t, err, ErrAlreadySetup)

	done, err = svc.IsSetupComplete(ctx)
	require.NoError(t, err)
	assert.True(t, done)

	loggedIn, err := svc.Login(ctx, "admin", "password123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	_, err = svc.Login(ctx, "admin", "nope-nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "someone", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword(t *testing.T) {
	ctx := t.Context()
	svc := newTestService(t)

	assert.ErrorIs(t, svc.ChangePassword(ctx, "a", "b"), ErrNotSetup)

	_, err := svc.SetupUser(ctx, "admin", "password123")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword(ctx, "wrong-password", "newpassword1"), ErrInvalidCredentials)
	assert.ErrorIs(t, svc.ChangePassword(ctx, "password123", "tiny"), ErrWeakPassword)
	require.NoError(t, svc.ChangePassword(ctx, "password123", "newpassword1"))

	_, err = svc.Login(ctx, "admin", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "admin", "newpassword1")
	assert.NoError(t, err)
}

func TestAPIKeys(t *testing.T) {
	ctx := t.Context()
	svc := newTestService(t)

	_, _, err := svc.CreateAPIKey(ctx, "  ")
	assert.Error(t, err)

	raw, key, err := svc.CreateAPIKey(ctx, "ci")
	require.NoError(t, err)
	assert.Len(t, raw, 64)
	assert.Equal(t, "ci", key.Name)

	validated, err := svc.ValidateAPIKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, key.ID, validated.ID)

	_, err = svc.ValidateAPIKey(ctx, "not-a-key")
	assert.ErrorIs(t, err, models.ErrInvalidAPIKey)

	keys, err := svc.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, svc.DeleteAPIKey(ctx, key.ID))
	assert.ErrorIs(t, svc.DeleteAPIKey(ctx, key.ID), models.ErrAPIKeyNotFound)

	_, err = svc.ValidateAPIKey(ctx, raw)
	assert.ErrorIs(t, err, models.ErrInvalidAPIKey)
}
