// Package invite implements organization invites: their lifecycle and the
// redemption saga that turns a valid invite into a login identity with a
// linked organization profile.
package invite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-set/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/charleshuang3/onboard/internal/models"
	"github.com/charleshuang3/onboard/internal/storage"
)

const (
	// token collisions are astronomically unlikely, the unique index is what
	// actually guarantees uniqueness.
	maxTokenAttempts = 3
)

var (
	logger = log.With().Str("component", "invite").Logger()
)

type Delivery string

const (
	DeliveryEmail  Delivery = "email"
	DeliveryManual Delivery = "manual"
)

// Issued is the result of creating or resending an invite. When Delivery is
// DeliveryManual the caller should show URL so it can be shared by hand.
type Issued struct {
	Invite   *models.Invite
	URL      string
	Delivery Delivery
}

func (i *Issued) Delivered() bool {
	return i.Delivery == DeliveryEmail
}

type RepairAction string

const (
	RepairMarkedUsed          RepairAction = "marked_used"
	RepairMarkedUsedNoProfile RepairAction = "marked_used_no_profile"
	RepairAlreadyUsed         RepairAction = "already_used"
)

type RepairOutcome struct {
	Action  RepairAction
	Message string
}

type ManagerConfig struct {
	// WebOrigin is prefixed to invite links, e.g. https://app.example.com.
	WebOrigin string

	Invites   InviteStore
	Profiles  ProfileStore
	Notifier  NotificationDispatcher
	Directory Directory

	// Tokens defaults to RandomTokens.
	Tokens TokenIssuer
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Manager enforces the invite lifecycle: admin only mutations, a single active
// invite per organization and email, expiry, ownership checks and self-healing
// of invites left pending after a successful signup.
type Manager struct {
	webOrigin string
	invites   InviteStore
	profiles  ProfileStore
	notifier  NotificationDispatcher
	directory Directory
	tokens    TokenIssuer
	now       func() time.Time

	background sync.WaitGroup
}

func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		webOrigin: strings.TrimSuffix(cfg.WebOrigin, "/"),
		invites:   cfg.Invites,
		profiles:  cfg.Profiles,
		notifier:  cfg.Notifier,
		directory: cfg.Directory,
		tokens:    cfg.Tokens,
		now:       cfg.Now,
	}
	if m.tokens == nil {
		m.tokens = RandomTokens
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	return m
}

// Wait blocks until background self-healing started by ListPending finishes.
func (m *Manager) Wait() {
	m.background.Wait()
}

// RequireAdmin resolves the requester's profile and checks it is an active
// administrator of some organization.
func (m *Manager) RequireAdmin(ctx context.Context, requesterID string) (*models.Profile, error) {
	if requesterID == "" {
		return nil, newError(KindAuthorization, "requester is required", nil)
	}

	p, err := m.profiles.Get(ctx, requesterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(KindAuthorization, "requester has no organization profile", nil)
		}
		return nil, persistenceError("failed to load requester profile", err)
	}

	if !p.IsAdminOf(p.OrganizationID) {
		return nil, newError(KindAuthorization, "requester is not an organization admin", nil)
	}
	return p, nil
}

// Create invites email to the requester's organization with role. Active
// invites for the same email are superseded. The email is sent best effort.
func (m *Manager) Create(ctx context.Context, requesterID, email, role string) (*Issued, error) {
	admin, err := m.RequireAdmin(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	email, err = NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if err := validateRole(role); err != nil {
		return nil, err
	}

	orgID := admin.OrganizationID
	members, err := m.profiles.ListByOrganization(ctx, orgID, storage.ProfileFilter{Email: email})
	if err != nil {
		return nil, persistenceError("failed to look up members", err)
	}
	if len(members) > 0 {
		return nil, newError(KindConflict, email+" is already a member of the organization", nil)
	}

	now := m.now()
	m.supersede(ctx, orgID, email, "", now)

	inv := &models.Invite{
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		InvitedBy:      requesterID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(models.InviteTTL),
	}
	if err := m.insert(ctx, inv); err != nil {
		return nil, err
	}

	logger.Info().
		Str("invite_id", inv.ID).
		Str("organization_id", orgID).
		Str("role", role).
		Msg("Invite created")

	return m.issue(ctx, inv), nil
}

// supersede removes active invites for (orgID, email) other than keepID.
// Failures are logged, they must not block issuing the new invite.
func (m *Manager) supersede(ctx context.Context, orgID, email, keepID string, now time.Time) {
	stale, err := m.invites.ListActive(ctx, orgID, email, now)
	if err != nil {
		logger.Warn().Err(err).Str("organization_id", orgID).Msg("Failed to list invites to supersede")
		return
	}

	for _, inv := range stale {
		if inv.ID == keepID {
			continue
		}
		if _, err := m.invites.Delete(ctx, inv.ID); err != nil {
			logger.Warn().Err(err).Str("invite_id", inv.ID).Msg("Failed to delete superseded invite")
			continue
		}
		logger.Debug().Str("invite_id", inv.ID).Msg("Superseded invite deleted")
	}
}

func (m *Manager) insert(ctx context.Context, inv *models.Invite) error {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := m.tokens.Issue()
		if err != nil {
			return persistenceError("failed to issue invite token", err)
		}
		inv.Token = token

		err = m.invites.Create(ctx, inv)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return persistenceError("failed to store invite", err)
		}
		logger.Warn().Int("attempt", attempt).Msg("Invite token collision, issuing another")
	}
	return newError(KindConflict, "failed to issue a unique invite token", nil)
}

func (m *Manager) issue(ctx context.Context, inv *models.Invite) *Issued {
	delivery := m.dispatch(ctx, inv)
	invitesCreated.WithLabelValues(string(delivery)).Inc()
	return &Issued{
		Invite:   inv,
		URL:      URL(m.webOrigin, inv.Token),
		Delivery: delivery,
	}
}

func (m *Manager) dispatch(ctx context.Context, inv *models.Invite) Delivery {
	if m.notifier == nil {
		return DeliveryManual
	}

	msg := &InviteMessage{
		Email:     inv.Email,
		InviteURL: URL(m.webOrigin, inv.Token),
		Role:      inv.Role,
	}

	if m.directory != nil {
		var g errgroup.Group
		g.Go(func() error {
			name, err := m.directory.OrganizationName(ctx, inv.OrganizationID)
			if err != nil {
				logger.Warn().Err(err).Str("organization_id", inv.OrganizationID).Msg("Failed to resolve organization name")
				return nil
			}
			msg.OrganizationName = name
			return nil
		})
		g.Go(func() error {
			name, err := m.directory.ProfileName(ctx, inv.InvitedBy)
			if err != nil {
				logger.Warn().Err(err).Str("profile_id", inv.InvitedBy).Msg("Failed to resolve inviter name")
				return nil
			}
			msg.InviterName = name
			return nil
		})
		_ = g.Wait()
	}

	if !m.notifier.SendInvite(ctx, msg) {
		logger.Warn().Str("invite_id", inv.ID).Msg("Invite email not delivered, link must be shared manually")
		return DeliveryManual
	}
	return DeliveryEmail
}

// Verify returns the invite for token if it can still be redeemed. It has no
// side effects.
func (m *Manager) Verify(ctx context.Context, token string) (*models.Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(KindValidation, "invite token is required", nil)
	}

	inv, err := m.invites.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(KindNotFound, "invite not found", nil)
		}
		return nil, persistenceError("failed to load invite", err)
	}

	// Expiry wins over used, an expired invite reads as expired whatever
	// happened to it.
	if inv.IsExpired(m.now()) {
		return nil, newError(KindExpired, "invite has expired", nil)
	}
	if inv.Used {
		return nil, newError(KindAlreadyUsed, "invite has already been used", nil)
	}
	return inv, nil
}

// ListPending returns the organization's unused, unexpired invites. Invites
// whose email already belongs to a member are left out and marked used in
// background.
func (m *Manager) ListPending(ctx context.Context, organizationID string) ([]*models.Invite, error) {
	active, err := m.invites.ListActive(ctx, organizationID, "", m.now())
	if err != nil {
		return nil, persistenceError("failed to list invites", err)
	}
	if len(active) == 0 {
		return active, nil
	}

	members, err := m.profiles.ListByOrganization(ctx, organizationID, storage.ProfileFilter{})
	if err != nil {
		return nil, persistenceError("failed to list members", err)
	}
	memberEmails := set.New[string](len(members))
	for _, p := range members {
		memberEmails.Insert(p.Email)
	}

	pending := make([]*models.Invite, 0, len(active))
	var stale []string
	for _, inv := range active {
		if memberEmails.Contains(inv.Email) {
			stale = append(stale, inv.ID)
			continue
		}
		pending = append(pending, inv)
	}

	if len(stale) > 0 {
		m.healInBackground(context.WithoutCancel(ctx), stale)
	}
	return pending, nil
}

func (m *Manager) healInBackground(ctx context.Context, ids []string) {
	m.background.Add(1)
	go func() {
		defer m.background.Done()

		now := m.now()
		for _, id := range ids {
			n, err := m.invites.MarkUsedByID(ctx, id, now)
			if err != nil {
				logger.Error().Err(err).Str("invite_id", id).Msg("Failed to mark stale invite used")
				continue
			}
			if n > 0 {
				selfHealed.Inc()
				logger.Info().Str("invite_id", id).Msg("Stale invite marked used, member already exists")
			}
		}
	}()
}

// ownedInvite loads inviteID and checks it belongs to admin's organization.
func (m *Manager) ownedInvite(ctx context.Context, admin *models.Profile, inviteID string) (*models.Invite, error) {
	inv, err := m.invites.GetByID(ctx, inviteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(KindNotFound, "invite not found", nil)
		}
		return nil, persistenceError("failed to load invite", err)
	}

	if inv.OrganizationID != admin.OrganizationID {
		logger.Warn().
			Str("invite_id", inv.ID).
			Str("requester_id", admin.ID).
			Msg("Admin tried to change an invite of another organization")
		return nil, newError(KindPermissionDenied, "invite belongs to another organization", nil)
	}
	return inv, nil
}

// Resend issues a fresh token and expiry for an unused invite and emails it
// again. Email, role, organization, inviter and creation time stay the same.
func (m *Manager) Resend(ctx context.Context, requesterID, inviteID string) (*Issued, error) {
	admin, err := m.RequireAdmin(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	inv, err := m.ownedInvite(ctx, admin, inviteID)
	if err != nil {
		return nil, err
	}
	if inv.Used {
		return nil, newError(KindAlreadyUsed, "invite has already been used", nil)
	}

	now := m.now()
	// an expired invite comes back to life, newer invites for the same email
	// must go.
	m.supersede(ctx, inv.OrganizationID, inv.Email, inv.ID, now)

	expiresAt := now.Add(models.InviteTTL)
	for attempt := 1; ; attempt++ {
		token, err := m.tokens.Issue()
		if err != nil {
			return nil, persistenceError("failed to issue invite token", err)
		}

		n, err := m.invites.Rotate(ctx, inv.ID, token, expiresAt)
		if errors.Is(err, storage.ErrDuplicate) {
			if attempt < maxTokenAttempts {
				logger.Warn().Int("attempt", attempt).Msg("Invite token collision, issuing another")
				continue
			}
			return nil, newError(KindConflict, "failed to issue a unique invite token", err)
		}
		if err != nil {
			return nil, persistenceError("failed to rotate invite token", err)
		}
		if n == 0 {
			// consumed or canceled since we loaded it
			return nil, newError(KindAlreadyUsed, "invite is no longer pending", nil)
		}

		inv.Token = token
		inv.ExpiresAt = expiresAt
		inv.Used = false
		inv.UsedAt = nil
		break
	}

	logger.Info().Str("invite_id", inv.ID).Msg("Invite resent")
	return m.issue(ctx, inv), nil
}

// Cancel deletes a pending invite of the requester's organization. Canceling
// an invite that no longer exists succeeds.
func (m *Manager) Cancel(ctx context.Context, requesterID, inviteID string) error {
	admin, err := m.RequireAdmin(ctx, requesterID)
	if err != nil {
		return err
	}

	inv, err := m.ownedInvite(ctx, admin, inviteID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Debug().Str("invite_id", inviteID).Msg("Invite already canceled")
			return nil
		}
		return err
	}
	if inv.Used {
		return newError(KindAlreadyUsed, "a used invite cannot be canceled", nil)
	}

	n, err := m.invites.Delete(ctx, inv.ID)
	if err != nil {
		return persistenceError("failed to delete invite", err)
	}
	if n == 0 {
		// Deleted by someone else in between, or filtered out by the store.
		logger.Debug().Str("invite_id", inv.ID).Msg("Invite already canceled")
		return nil
	}

	logger.Info().Str("invite_id", inv.ID).Str("requester_id", requesterID).Msg("Invite canceled")
	return nil
}

// Repair marks an invite stuck in pending as used. An invite is marked used
// even when no member profile exists for its email, since an identity may
// already exist for it; the outcome then asks for manual profile creation.
func (m *Manager) Repair(ctx context.Context, requesterID, inviteID string) (*RepairOutcome, error) {
	admin, err := m.RequireAdmin(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	inv, err := m.ownedInvite(ctx, admin, inviteID)
	if err != nil {
		return nil, err
	}
	if inv.Used {
		return &RepairOutcome{
			Action:  RepairAlreadyUsed,
			Message: "Invite is already marked used.",
		}, nil
	}

	members, err := m.profiles.ListByOrganization(ctx, inv.OrganizationID, storage.ProfileFilter{Email: inv.Email})
	if err != nil {
		return nil, persistenceError("failed to look up members", err)
	}

	if _, err := m.invites.MarkUsedByID(ctx, inv.ID, m.now()); err != nil {
		return nil, persistenceError("failed to mark invite used", err)
	}

	if len(members) > 0 {
		logger.Info().Str("invite_id", inv.ID).Str("profile_id", members[0].ID).Msg("Invite repaired")
		return &RepairOutcome{
			Action:  RepairMarkedUsed,
			Message: "Invite marked used, the member profile exists.",
		}, nil
	}

	logger.Warn().Str("invite_id", inv.ID).Msg("Invite repaired without a member profile")
	return &RepairOutcome{
		Action: RepairMarkedUsedNoProfile,
		Message: "Invite marked used, but no member profile exists for " + inv.Email +
			". If the invitee already signed up, create the profile manually.",
	}, nil
}

// consume marks the invite for token used. It reports done when the invite
// is used afterwards, whoever flipped it.
func (m *Manager) consume(ctx context.Context, token string) (bool, error) {
	n, err := m.invites.MarkUsedByToken(ctx, token, m.now())
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	inv, err := m.invites.GetByToken(ctx, token)
	if err != nil {
		return false, err
	}
	return inv.Used, nil
}
