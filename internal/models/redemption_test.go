// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestRedemptionStore_CreateAndDownload(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	project := createTestProject(t, db, "alpha")
	key, err := NewLicenseKeyStore(db).Insert(ctx, &LicenseKey{KeyCode: "PROJ-RDM0-0000-0001", ProjectID: project.ID, KeyType: KeyTypeMultiUse, MaxUses: 5})
	require.NoError(t, err)

	store := NewRedemptionStore(db)
	r, err := store.Create(ctx, &Redemption{
		LicenseKeyID:    key.ID,
		ProjectID:       project.ID,
		RedeemedByEmail: strPtr("dev@example.com"),
		RedeemedByIP:    strPtr("203.0.113.7"),
	})
	require.NoError(t, err)
	assert.NotZero(t, r.ID)
	assert.Equal(t, 0, r.DownloadCount)
	assert.Nil(t, r.LastDownloadAt)
	assert.False(t, r.RedeemedAt.IsZero())

	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	updated, err := store.IncrementDownload(ctx, r.ID, key.KeyCode, at)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.DownloadCount)
	require.NotNil(t, updated.LastDownloadAt)
	assert.True(t, at.Equal(*updated.LastDownloadAt))

	updated, err = store.IncrementDownload(ctx, r.ID, key.KeyCode, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, updated.DownloadCount)

	_, err = store.IncrementDownload(ctx, 9999, key.KeyCode, at)
	assert.ErrorIs(t, err, ErrRedemptionNotFound)

	_, err = store.Get(ctx, 9999)
	assert.ErrorIs(t, err, ErrRedemptionNotFound)
}

func TestRedemptionStore_IncrementDownloadRequiresOwningKey(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	project := createTestProject(t, db, "alpha")
	keys := NewLicenseKeyStore(db)
	owner, err := keys.Insert(ctx, &LicenseKey{KeyCode: "PROJ-OWNR-0000-0001", ProjectID: project.ID, KeyType: KeyTypeSingleUse, MaxUses: 1})
	require.NoError(t, err)
	other, err := keys.Insert(ctx, &LicenseKey{KeyCode: "PROJ-OTHR-0000-0002", ProjectID: project.ID, KeyType: KeyTypeSingleUse, MaxUses: 1})
	require.NoError(t, err)

	store := NewRedemptionStore(db)
	r, err := store.Create(ctx, &Redemption{LicenseKeyID: owner.ID, ProjectID: project.ID})
	require.NoError(t, err)

	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name    string
		keyCode string
	}{
		{name: "other_key", keyCode: other.KeyCode},
		{name: "unknown_key", keyCode: "PROJ-ZZZZ-ZZZZ-ZZZZ"},
		{name: "empty", keyCode: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.IncrementDownload(ctx, r.ID, tt.keyCode, at)
			assert.ErrorIs(t, err, ErrRedemptionNotFound)
		})
	}

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.DownloadCount)
	assert.Nil(t, got.LastDownloadAt)
}

func TestRedemptionStore_LatestForEmail(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	project := createTestProject(t, db, "alpha")
	key, err := NewLicenseKeyStore(db).Insert(ctx, &LicenseKey{KeyCode: "PROJ-RDM0-0000-0002", ProjectID: project.ID, KeyType: KeyTypeUnlimited, MaxUses: UnlimitedMaxUses})
	require.NoError(t, err)

	store := NewRedemptionStore(db)
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, &Redemption{
			LicenseKeyID:    key.ID,
			ProjectID:       project.ID,
			RedeemedByEmail: strPtr("dev@example.com"),
			RedeemedAt:      base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	latest, err := store.LatestForEmail(ctx, project.ID, "dev@example.com")
	require.NoError(t, err)
	assert.True(t, base.Add(2*time.Hour).Equal(latest.RedeemedAt))
	assert.Equal(t, string(KeyTypeUnlimited), latest.KeyType)
	assert.Empty(t, latest.KeyCode)

	_, err = store.LatestForEmail(ctx, project.ID, "nobody@example.com")
	assert.ErrorIs(t, err, ErrRedemptionNotFound)
}

func TestRedemptionStore_ListDetailedOrderingAndCounts(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	alpha := createTestProject(t, db, "alpha")
	beta := createTestProject(t, db, "beta")
	keys := NewLicenseKeyStore(db)

	single, err := keys.Insert(ctx, &LicenseKey{KeyCode: "PROJ-LST0-0000-0001", ProjectID: alpha.ID, KeyType: KeyTypeSingleUse, MaxUses: 1})
	require.NoError(t, err)
	multi, err := keys.Insert(ctx, &LicenseKey{KeyCode: "PROJ-LST0-0000-0002", ProjectID: beta.ID, KeyType: KeyTypeMultiUse, MaxUses: 3})
	require.NoError(t, err)

	store := NewRedemptionStore(db)
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	r1, err := store.Create(ctx, &Redemption{LicenseKeyID: single.ID, ProjectID: alpha.ID, RedeemedAt: base})
	require.NoError(t, err)
	r2, err := store.Create(ctx, &Redemption{LicenseKeyID: multi.ID, ProjectID: beta.ID, RedeemedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = store.IncrementDownload(ctx, r2.ID, multi.KeyCode, base.Add(2*time.Hour))
	require.NoError(t, err)

	all, err := store.ListDetailed(ctx, RedemptionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, r2.ID, all[0].ID, "newest redemption first")
	assert.Equal(t, r1.ID, all[1].ID)
	assert.Equal(t, "multi_use", all[0].KeyType)
	assert.Equal(t, "Project beta", all[0].ProjectTitle)

	onlyAlpha, err := store.ListDetailed(ctx, RedemptionFilter{ProjectID: &alpha.ID})
	require.NoError(t, err)
	require.Len(t, onlyAlpha, 1)
	assert.Equal(t, "single_use", onlyAlpha[0].KeyType)

	counts, err := store.CountByType(ctx)
	require.NoError(t, err)
	byType := make(map[string]RedemptionTypeCount)
	for _, c := range counts {
		byType[c.KeyType] = c
	}
	assert.Equal(t, 1, byType["single_use"].Redemptions)
	assert.Equal(t, 1, byType["multi_use"].Redemptions)
	assert.Equal(t, 1, byType["multi_use"].Downloads)
}

func TestProjectStore(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	store := NewProjectStore(db)

	p, err := store.Create(ctx, "  Portfolio-Site ", "Portfolio Site", "https://example.com/site.zip")
	require.NoError(t, err)
	assert.Equal(t, "portfolio-site", p.Slug)
	assert.Empty(t, p.Public().DownloadURL)
	assert.Equal(t, "https://example.com/site.zip", p.DownloadURL, "Public must not mutate the original")

	_, err = store.Create(ctx, "portfolio-site", "Dup", "")
	assert.ErrorIs(t, err, ErrProjectSlugTaken)

	_, err = store.Create(ctx, "bad slug!", "Bad", "")
	assert.ErrorIs(t, err, ErrInvalidSlug)

	bySlug, err := store.GetBySlug(ctx, "PORTFOLIO-SITE")
	require.NoError(t, err)
	assert.Equal(t, p.ID, bySlug.ID)

	updated, err := store.Update(ctx, p.ID, "Portfolio v2", "https://example.com/v2.zip")
	require.NoError(t, err)
	assert.Equal(t, "Portfolio v2", updated.Title)

	_, err = store.Get(ctx, 9999)
	assert.ErrorIs(t, err, ErrProjectNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
