package invite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	gormlog "gorm.io/gorm/logger"

	"github.com/charleshuang3/onboard/internal/gormw"
	"github.com/charleshuang3/onboard/internal/models"
	"github.com/charleshuang3/onboard/internal/storage"
)

const (
	testWebOrigin = "https://app.example.com"
	testPassword  = "correct horse battery staple"
)

var (
	testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	testPolicy = RedeemPolicy{
		Attempts:    3,
		RetryDelay:  time.Millisecond,
		SettleDelay: time.Millisecond,
	}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotifier struct {
	mu   sync.Mutex
	fail bool
	sent []*InviteMessage
}

func (n *fakeNotifier) SendInvite(_ context.Context, msg *InviteMessage) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return false
	}
	n.sent = append(n.sent, msg)
	return true
}

func (n *fakeNotifier) Sent() []*InviteMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*InviteMessage(nil), n.sent...)
}

// fakeIdentities keeps identities in memory. With skeletal set it writes an
// empty profile for every new identity before returning, like a database
// trigger that won the race against the coordinator.
type fakeIdentities struct {
	mu       sync.Mutex
	byEmail  map[string]string
	profiles ProfileStore
	skeletal bool
	err      error
}

func newFakeIdentities(profiles ProfileStore) *fakeIdentities {
	return &fakeIdentities{
		byEmail:  map[string]string{},
		profiles: profiles,
	}
}

func (f *fakeIdentities) CreateIdentity(ctx context.Context, email, password string, meta IdentityMetadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	if _, ok := f.byEmail[email]; ok {
		return "", ErrIdentityExists
	}

	id := uuid.NewString()
	f.byEmail[email] = id
	if f.skeletal {
		if err := f.profiles.Insert(ctx, &models.Profile{ID: id, Email: email, Name: meta.Name}); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (f *fakeIdentities) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byEmail)
}

// droppingProfiles acknowledges Update without writing, drop times. A
// negative drop loses every update.
type droppingProfiles struct {
	ProfileStore

	mu      sync.Mutex
	drop    int
	dropped int
}

func (d *droppingProfiles) Update(ctx context.Context, p *models.Profile) error {
	d.mu.Lock()
	if d.drop != 0 {
		if d.drop > 0 {
			d.drop--
		}
		d.dropped++
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return d.ProfileStore.Update(ctx, p)
}

var errStoreDown = errors.New("store unavailable")

// flakyInvites fails MarkUsedByToken and Delete for the configured number of
// calls, then passes through.
type flakyInvites struct {
	InviteStore

	mu               sync.Mutex
	markUsedFailures int
	deleteFailures   int
	markUsedCalls    int
}

func (f *flakyInvites) MarkUsedByToken(ctx context.Context, token string, at time.Time) (int64, error) {
	f.mu.Lock()
	f.markUsedCalls++
	if f.markUsedFailures > 0 {
		f.markUsedFailures--
		f.mu.Unlock()
		return 0, errStoreDown
	}
	f.mu.Unlock()
	return f.InviteStore.MarkUsedByToken(ctx, token, at)
}

func (f *flakyInvites) Delete(ctx context.Context, id string) (int64, error) {
	f.mu.Lock()
	if f.deleteFailures > 0 {
		f.deleteFailures--
		f.mu.Unlock()
		return 0, errStoreDown
	}
	f.mu.Unlock()
	return f.InviteStore.Delete(ctx, id)
}

func (f *flakyInvites) MarkUsedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markUsedCalls
}

// sequenceTokens issues tokens in order, then falls back to random ones.
func sequenceTokens(tokens ...string) TokenIssuer {
	var mu sync.Mutex
	next := 0
	return TokenIssuerFunc(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if next < len(tokens) {
			next++
			return tokens[next-1], nil
		}
		return RandomTokens.Issue()
	})
}

type fixture struct {
	db       *gormw.DB
	invites  *storage.InviteStore
	profiles *storage.ProfileStore
	clock    *fakeClock
	notifier *fakeNotifier

	manager *Manager

	org        *models.Organization
	otherOrg   *models.Organization
	admin      *models.Profile
	otherAdmin *models.Profile
	member     *models.Profile
}

func newFixture(t *testing.T, opts ...func(cfg *ManagerConfig)) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := gormw.Open(&gormw.Config{
		LogLevel: gormlog.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	f := &fixture{
		db:       db,
		invites:  storage.NewInviteStore(db),
		profiles: storage.NewProfileStore(db),
		clock:    &fakeClock{now: testNow},
		notifier: &fakeNotifier{},
		org:      &models.Organization{Name: "Acme"},
		otherOrg: &models.Organization{Name: "Globex"},
	}

	require.NoError(t, storage.CreateOrganization(ctx, db, f.org))
	require.NoError(t, storage.CreateOrganization(ctx, db, f.otherOrg))

	f.admin = &models.Profile{
		ID:             "admin-1",
		OrganizationID: f.org.ID,
		Email:          "ada@acme.com",
		Name:           "Ada Admin",
		Role:           models.RoleAdmin,
		IsActive:       true,
	}
	f.member = &models.Profile{
		ID:             "member-1",
		OrganizationID: f.org.ID,
		Email:          "max@acme.com",
		Name:           "Max Member",
		Role:           models.RoleMember,
		IsActive:       true,
	}
	f.otherAdmin = &models.Profile{
		ID:             "admin-2",
		OrganizationID: f.otherOrg.ID,
		Email:          "gus@globex.com",
		Name:           "Gus Globex",
		Role:           models.RoleAdmin,
		IsActive:       true,
	}
	for _, p := range []*models.Profile{f.admin, f.member, f.otherAdmin} {
		require.NoError(t, f.profiles.Insert(ctx, p))
	}

	cfg := ManagerConfig{
		WebOrigin: testWebOrigin + "/",
		Invites:   f.invites,
		Profiles:  f.profiles,
		Notifier:  f.notifier,
		Directory: storage.NewDirectory(db),
		Now:       f.clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.manager = NewManager(cfg)
	t.Cleanup(f.manager.Wait)

	return f
}

// createInvite creates an invite as the fixture admin.
func (f *fixture) createInvite(t *testing.T, email, role string) *models.Invite {
	t.Helper()
	issued, err := f.manager.Create(context.Background(), f.admin.ID, email, role)
	require.NoError(t, err)
	return issued.Invite
}

func (f *fixture) reloadInvite(t *testing.T, id string) *models.Invite {
	t.Helper()
	inv, err := f.invites.GetByID(context.Background(), id)
	require.NoError(t, err)
	return inv
}
