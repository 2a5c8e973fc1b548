package storage

import (
	"context"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlog "gorm.io/gorm/logger"

	"github.com/charleshuang3/onboard/internal/gormw"
	"github.com/charleshuang3/onboard/internal/models"
)

var (
	testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
)

func setupTestDB(t *testing.T) *gormw.DB {
	t.Helper()
	database, err := gormw.Open(&gormw.Config{
		LogLevel: gormlog.Silent,
	})
	require.NoError(t, err)

	err = database.Migrate()
	require.NoError(t, err)

	return database
}

func newTestInvite(orgID, email, token string, createdAt time.Time) *models.Invite {
	return &models.Invite{
		OrganizationID: orgID,
		Email:          email,
		Role:           models.RoleMember,
		Token:          token,
		InvitedBy:      "admin-1",
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(models.InviteTTL),
	}
}

func TestInviteStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewInviteStore(setupTestDB(t))

	inv := newTestInvite("org-1", "a@x.com", "token-1", testNow)
	require.NoError(t, s.Create(ctx, inv))
	assert.NotEmpty(t, inv.ID, "Expected store to assign an id")

	byToken, err := s.GetByToken(ctx, "token-1")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, byToken.ID)
	assert.Equal(t, "a@x.com", byToken.Email)
	assert.False(t, byToken.Used)

	byID, err := s.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-1", byID.Token)

	_, err = s.GetByToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInviteStore_CreateDuplicateToken(t *testing.T) {
	ctx := context.Background()
	s := NewInviteStore(setupTestDB(t))

	require.NoError(t, s.Create(ctx, newTestInvite("org-1", "a@x.com", "token-1", testNow)))
	err := s.Create(ctx, newTestInvite("org-2", "b@x.com", "token-1", testNow))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestInviteStore_ListActive(t *testing.T) {
	ctx := context.Background()
	s := NewInviteStore(setupTestDB(t))

	active := newTestInvite("org-1", "a@x.com", "t-active", testNow.Add(-time.Hour))
	other := newTestInvite("org-1", "b@x.com", "t-other", testNow)
	expired := newTestInvite("org-1", "a@x.com", "t-expired", testNow.Add(-8*24*time.Hour))
	used := newTestInvite("org-1", "a@x.com", "t-used", testNow)
	used.Used = true
	foreign := newTestInvite("org-2", "a@x.com", "t-foreign", testNow)

	for _, inv := range []*models.Invite{active, other, expired, used, foreign} {
		require.NoError(t, s.Create(ctx, inv))
	}

	all, err := s.ListActive(ctx, "org-1", "", testNow)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, active.ID, all[0].ID, "Expected oldest first")
	assert.Equal(t, other.ID, all[1].ID)

	forEmail, err := s.ListActive(ctx, "org-1", "a@x.com", testNow)
	require.NoError(t, err)
	require.Len(t, forEmail, 1)
	assert.Equal(t, active.ID, forEmail[0].ID)
}

func TestInviteStore_MarkUsed(t *testing.T) {
	ctx := context.Background()
	s := NewInviteStore(setupTestDB(t))

	inv := newTestInvite("org-1", "a@x.com", "token-1", testNow)
	require.NoError(t, s.Create(ctx, inv))

	n, err := s.MarkUsedByToken(ctx, "token-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// second transition is a no-op and keeps the first used_at
	n, err = s.MarkUsedByToken(ctx, "token-1", testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.MarkUsedByID(ctx, inv.ID, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err := s.GetByToken(ctx, "token-1")
	require.NoError(t, err)
	assert.True(t, got.Used)
	require.NotNil(t, got.UsedAt)
	assert.True(t, testNow.Equal(*got.UsedAt), "Expected used_at %v, got %v", testNow, *got.UsedAt)

	n, err = s.MarkUsedByToken(ctx, "missing", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestInviteStore_Rotate(t *testing.T) {
	ctx := context.Background()
	s := NewInviteStore(setupTestDB(t))

	inv := newTestInvite("org-1", "a@x.com", "token-1", testNow)
	require.NoError(t, s.Create(ctx, inv))

	expiresAt := testNow.Add(10 * 24 * time.Hour)
	n, err := s.Rotate(ctx, inv.ID, "token-2", expiresAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetByToken(ctx, "token-1")
	assert.ErrorIs(t, err, ErrNotFound, "Expected old token to stop resolving")

	got, err := s.GetByToken(ctx, "token-2")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
	assert.True(t, expiresAt.Equal(got.ExpiresAt))
	assert.True(t, testNow.Equal(got.CreatedAt), "Expected created_at unchanged")
	assert.Equal(t, "admin-1", got.InvitedBy)

	_, err = s.MarkUsedByID(ctx, inv.ID, testNow)
	require.NoError(t, err)

	n, err = s.Rotate(ctx, inv.ID, "token-3", expiresAt)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "Expected used invite not to rotate")
}

func TestInviteStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewInviteStore(setupTestDB(t))

	pending := newTestInvite("org-1", "a@x.com", "token-1", testNow)
	used := newTestInvite("org-1", "b@x.com", "token-2", testNow)
	used.Used = true
	require.NoError(t, s.Create(ctx, pending))
	require.NoError(t, s.Create(ctx, used))

	n, err := s.Delete(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Delete(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.Delete(ctx, used.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "Expected used invite to survive delete")

	_, err = s.GetByID(ctx, used.ID)
	assert.NoError(t, err)
}

func TestDeleteLongExpiredInvites(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	s := NewInviteStore(db)

	old := newTestInvite("org-1", "a@x.com", "token-old", testNow.Add(-60*24*time.Hour))
	recent := newTestInvite("org-1", "b@x.com", "token-recent", testNow.Add(-10*24*time.Hour))
	oldUsed := newTestInvite("org-1", "c@x.com", "token-old-used", testNow.Add(-60*24*time.Hour))
	oldUsed.Used = true
	for _, inv := range []*models.Invite{old, recent, oldUsed} {
		require.NoError(t, s.Create(ctx, inv))
	}

	n, err := deleteLongExpiredInvites(db, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByID(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = s.GetByID(ctx, oldUsed.ID)
	assert.NoError(t, err)
}

func TestRegisterExpiredInvitesCleaner(t *testing.T) {
	scheduler, err := gocron.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = scheduler.Shutdown() })

	require.NoError(t, RegisterExpiredInvitesCleaner(scheduler, setupTestDB(t)))
	assert.Len(t, scheduler.Jobs(), 1)
}

func TestProfileStore(t *testing.T) {
	ctx := context.Background()
	s := NewProfileStore(setupTestDB(t))

	skeletal := &models.Profile{ID: "identity-1", Email: "a@x.com", Name: "A"}
	require.NoError(t, s.Insert(ctx, skeletal))

	err := s.Insert(ctx, &models.Profile{ID: "identity-1", Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.Get(ctx, "identity-1")
	require.NoError(t, err)
	assert.Empty(t, got.OrganizationID)
	assert.Empty(t, got.Role)

	err = s.Update(ctx, &models.Profile{
		ID:             "identity-1",
		OrganizationID: "org-1",
		Email:          "a@x.com",
		Name:           "Ada",
		Role:           models.RoleAdmin,
		IsActive:       true,
	})
	require.NoError(t, err)

	got, err = s.Get(ctx, "identity-1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", got.OrganizationID)
	assert.Equal(t, models.RoleAdmin, got.Role)
	assert.Equal(t, "Ada", got.Name)
	assert.True(t, got.IsActive)

	// zero values are written too
	got.IsActive = false
	require.NoError(t, s.Update(ctx, got))
	got, err = s.Get(ctx, "identity-1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	err = s.Update(ctx, &models.Profile{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfileStore_ListByOrganization(t *testing.T) {
	ctx := context.Background()
	s := NewProfileStore(setupTestDB(t))

	profiles := []*models.Profile{
		{ID: "p1", OrganizationID: "org-1", Email: "a@x.com", Role: models.RoleAdmin, IsActive: true},
		{ID: "p2", OrganizationID: "org-1", Email: "b@x.com", Role: models.RoleMember, IsActive: true},
		{ID: "p3", OrganizationID: "org-2", Email: "c@x.com", Role: models.RoleMember, IsActive: true},
		{ID: "p4", Email: "d@x.com"},
	}
	for _, p := range profiles {
		require.NoError(t, s.Insert(ctx, p))
	}

	tests := []struct {
		name     string
		org      string
		filter   ProfileFilter
		expected []string
	}{
		{name: "all of org", org: "org-1", expected: []string{"p1", "p2"}},
		{name: "by role", org: "org-1", filter: ProfileFilter{Role: models.RoleMember}, expected: []string{"p2"}},
		{name: "by email", org: "org-1", filter: ProfileFilter{Email: "a@x.com"}, expected: []string{"p1"}},
		{name: "email of other org", org: "org-1", filter: ProfileFilter{Email: "c@x.com"}, expected: []string{}},
		{name: "unknown org", org: "org-3", expected: []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := s.ListByOrganization(ctx, tc.org, tc.filter)
			require.NoError(t, err)

			ids := []string{}
			for _, p := range res {
				ids = append(ids, p.ID)
			}
			assert.ElementsMatch(t, tc.expected, ids)
		})
	}
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	org := &models.Organization{Name: "Acme"}
	require.NoError(t, CreateOrganization(ctx, db, org))
	require.NoError(t, NewProfileStore(db).Insert(ctx, &models.Profile{ID: "p1", OrganizationID: org.ID, Name: "Ada"}))

	d := NewDirectory(db)

	name, err := d.OrganizationName(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", name)

	name, err = d.ProfileName(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)

	// served from cache after a rename
	require.NoError(t, db.Model(&models.Organization{}).Where("id = ?", org.ID).Update("name", "Acme Inc").Error)
	name, err = d.OrganizationName(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", name)

	_, err = d.OrganizationName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.ProfileName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
