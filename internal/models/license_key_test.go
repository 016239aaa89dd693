// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licensegate/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func createTestProject(t *testing.T, db *database.DB, slug string) *Project {
	t.Helper()

	p, err := NewProjectStore(db).Create(t.Context(), slug, "Project "+slug, "https://example.com/"+slug+".zip")
	require.NoError(t, err)
	return p
}

func TestParseKeyType(t *testing.T) {
	tests := []struct {
		input   string
		want    KeyType
		wantErr bool
	}{
		{input: "single_use", want: KeyTypeSingleUse},
		{input: "MULTI_USE", want: KeyTypeMultiUse},
		{input: " time_limited ", want: KeyTypeTimeLimited},
		{input: "unlimited", want: KeyTypeUnlimited},
		{input: "forever", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKeyType(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKeyType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLicenseKeyPredicates(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		key       LicenseKey
		expired   bool
		exhausted bool
	}{
		{name: "fresh single use", key: LicenseKey{KeyType: KeyTypeSingleUse, MaxUses: 1}},
		{name: "used single use", key: LicenseKey{KeyType: KeyTypeSingleUse, MaxUses: 1, CurrentUses: 1}, exhausted: true},
		{name: "unlimited past cap", key: LicenseKey{KeyType: KeyTypeUnlimited, MaxUses: 1, CurrentUses: 50}},
		{name: "expired", key: LicenseKey{KeyType: KeyTypeTimeLimited, MaxUses: 5, ExpiresAt: &past}, expired: true},
		{name: "not yet expired", key: LicenseKey{KeyType: KeyTypeTimeLimited, MaxUses: 5, ExpiresAt: &future}},
		{name: "expiry equal to now", key: LicenseKey{KeyType: KeyTypeTimeLimited, MaxUses: 5, ExpiresAt: &now}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.key.IsExpired(now))
			assert.Equal(t, tt.exhausted, tt.key.UsageExhausted())
		})
	}
}

func TestLicenseKeyStore_InsertAndFind(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	store := NewLicenseKeyStore(db)
	project := createTestProject(t, db, "alpha")
	other := createTestProject(t, db, "beta")

	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	notes := "launch batch"

	key, err := store.Insert(ctx, &LicenseKey{
		KeyCode:   "PROJ-AAAA-BBBB-CCCC",
		ProjectID: project.ID,
		KeyType:   KeyTypeTimeLimited,
		MaxUses:   3,
		ExpiresAt: &expires,
		Notes:     &notes,
	})
	require.NoError(t, err)
	assert.NotZero(t, key.ID)
	assert.Equal(t, 0, key.CurrentUses)
	assert.True(t, key.IsActive)
	require.NotNil(t, key.ExpiresAt)
	assert.True(t, expires.Equal(*key.ExpiresAt))
	require.NotNil(t, key.Notes)
	assert.Equal(t, notes, *key.Notes)

	found, err := store.FindByCodeAndProject(ctx, "PROJ-AAAA-BBBB-CCCC", project.ID)
	require.NoError(t, err)
	assert.Equal(t, key.ID, found.ID)

	_, err = store.FindByCodeAndProject(ctx, "PROJ-AAAA-BBBB-CCCC", other.ID)
	assert.ErrorIs(t, err, ErrLicenseKeyNotFound)

	_, err = store.Insert(ctx, &LicenseKey{
		KeyCode:   "PROJ-AAAA-BBBB-CCCC",
		ProjectID: other.ID,
		KeyType:   KeyTypeSingleUse,
		MaxUses:   1,
	})
	assert.ErrorIs(t, err, ErrDuplicateKeyCode)

	_, err = store.Insert(ctx, &LicenseKey{
		KeyCode:   "PROJ-DDDD-EEEE-FFFF",
		ProjectID: project.ID,
		KeyType:   KeyType("lifetime"),
		MaxUses:   1,
	})
	assert.ErrorIs(t, err, ErrInvalidKeyType)
}

func TestLicenseKeyStore_UpdateActive(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	store := NewLicenseKeyStore(db)
	project := createTestProject(t, db, "alpha")

	key, err := store.Insert(ctx, &LicenseKey{KeyCode: "PROJ-AAAA-AAAA-AAAA", ProjectID: project.ID, KeyType: KeyTypeMultiUse, MaxUses: 5})
	require.NoError(t, err)

	revoked, err := store.UpdateActive(ctx, key.ID, false)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)

	_, err = store.FindByCodeAndProject(ctx, key.KeyCode, project.ID)
	assert.ErrorIs(t, err, ErrLicenseKeyNotFound, "inactive keys are invisible to lookups")

	restored, err := store.UpdateActive(ctx, key.ID, true)
	require.NoError(t, err)
	assert.True(t, restored.IsActive)

	_, err = store.UpdateActive(ctx, 9999, false)
	assert.ErrorIs(t, err, ErrLicenseKeyNotFound)
}

func TestLicenseKeyStore_List(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	store := NewLicenseKeyStore(db)
	alpha := createTestProject(t, db, "alpha")
	beta := createTestProject(t, db, "beta")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fixtures := []LicenseKey{
		{KeyCode: "PROJ-0000-0000-0001", ProjectID: alpha.ID, KeyType: KeyTypeSingleUse, MaxUses: 1, CreatedAt: base},
		{KeyCode: "PROJ-0000-0000-0002", ProjectID: alpha.ID, KeyType: KeyTypeUnlimited, MaxUses: UnlimitedMaxUses, CreatedAt: base.Add(time.Minute)},
		{KeyCode: "PROJ-0000-0000-0003", ProjectID: beta.ID, KeyType: KeyTypeSingleUse, MaxUses: 1, CreatedAt: base.Add(2 * time.Minute)},
	}
	var ids []int
	for i := range fixtures {
		k, err := store.Insert(ctx, &fixtures[i])
		require.NoError(t, err)
		ids = append(ids, k.ID)
	}
	_, err := store.UpdateActive(ctx, ids[2], false)
	require.NoError(t, err)

	all, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "PROJ-0000-0000-0003", all[0].KeyCode, "newest first")
	assert.Equal(t, "Project beta", all[0].ProjectTitle)

	single := KeyTypeSingleUse
	active := true
	filtered, err := store.List(ctx, ListFilter{KeyType: &single, IsActive: &active})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "PROJ-0000-0000-0001", filtered[0].KeyCode)

	byProject, err := store.List(ctx, ListFilter{ProjectID: &alpha.ID})
	require.NoError(t, err)
	assert.Len(t, byProject, 2)

	counts, err := store.CountByType(ctx)
	require.NoError(t, err)
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	assert.Equal(t, 3, total)
}

func TestLicenseKeyStore_IncrementUses(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	store := NewLicenseKeyStore(db)
	project := createTestProject(t, db, "alpha")

	capped, err := store.Insert(ctx, &LicenseKey{KeyCode: "PROJ-CAP0-0000-0002", ProjectID: project.ID, KeyType: KeyTypeMultiUse, MaxUses: 2})
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		k, err := store.IncrementUses(ctx, capped.ID)
		require.NoError(t, err)
		assert.Equal(t, i, k.CurrentUses)
	}

	_, err = store.IncrementUses(ctx, capped.ID)
	assert.ErrorIs(t, err, ErrUsageLimitReached)

	unlimited, err := store.Insert(ctx, &LicenseKey{KeyCode: "PROJ-UNL0-0000-0001", ProjectID: project.ID, KeyType: KeyTypeUnlimited, MaxUses: 1})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.IncrementUses(ctx, unlimited.ID)
		require.NoError(t, err)
	}
	got, err := store.Get(ctx, unlimited.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentUses)

	_, err = store.UpdateActive(ctx, unlimited.ID, false)
	require.NoError(t, err)
	_, err = store.IncrementUses(ctx, unlimited.ID)
	assert.ErrorIs(t, err, ErrLicenseKeyNotFound)

	_, err = store.IncrementUses(ctx, 424242)
	assert.ErrorIs(t, err, ErrLicenseKeyNotFound)
}

func TestLicenseKeyStore_IncrementUsesConcurrent(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	store := NewLicenseKeyStore(db)
	project := createTestProject(t, db, "alpha")

	key, err := store.Insert(ctx, &LicenseKey{KeyCode: "PROJ-RACE-0000-0001", ProjectID: project.ID, KeyType: KeyTypeMultiUse, MaxUses: 3})
	require.NoError(t, err)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementUses(ctx, key.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrUsageLimitReached)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)

	got, err := store.Get(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentUses)
}
