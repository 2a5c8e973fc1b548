package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charleshuang3/onboard/internal/models"
	"github.com/charleshuang3/onboard/internal/storage"
)

// RedeemPolicy bounds the retries of the redemption saga.
type RedeemPolicy struct {
	// Attempts for invite consumption and for profile reconciliation each.
	Attempts int
	// RetryDelay between two attempts.
	RetryDelay time.Duration
	// SettleDelay gives the identity provider's own profile writer time to
	// run before reconciliation starts.
	SettleDelay time.Duration
}

var DefaultRedeemPolicy = RedeemPolicy{
	Attempts:    3,
	RetryDelay:  500 * time.Millisecond,
	SettleDelay: 500 * time.Millisecond,
}

// Coordinator runs the redemption saga: verify the invite, create the
// identity, consume the invite, reconcile the profile and check the result.
//
// Nothing spans the identity provider and the stores, steps that already
// committed are never rolled back. The invite is consumed before the profile
// is reconciled, so an invite can end up used with a profile that failed to
// converge; Manager.Repair and a manual profile fix recover from that.
type Coordinator struct {
	manager    *Manager
	profiles   ProfileStore
	identities IdentityProvider
	policy     RedeemPolicy
}

func NewCoordinator(manager *Manager, identities IdentityProvider, policy RedeemPolicy) *Coordinator {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultRedeemPolicy.Attempts
	}
	return &Coordinator{
		manager:    manager,
		profiles:   manager.profiles,
		identities: identities,
		policy:     policy,
	}
}

// Redeem provisions an identity and organization profile for the invite
// token and returns the converged profile.
func (c *Coordinator) Redeem(ctx context.Context, token, name, password string) (*models.Profile, error) {
	p, err := c.redeem(ctx, token, name, password)
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	redemptions.WithLabelValues(outcome).Inc()
	return p, err
}

func (c *Coordinator) redeem(ctx context.Context, token, name, password string) (*models.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(KindValidation, "name is required", nil)
	}
	if password == "" {
		return nil, newError(KindValidation, "password is required", nil)
	}

	inv, err := c.manager.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	identityID, err := c.identities.CreateIdentity(ctx, inv.Email, password, IdentityMetadata{Name: name})
	if err != nil {
		if errors.Is(err, ErrIdentityExists) {
			return nil, newError(KindConflict, "an account already exists for "+inv.Email, err)
		}
		return nil, persistenceError("failed to create identity", err)
	}

	l := logger.With().Str("invite_id", inv.ID).Str("identity_id", identityID).Logger()
	l.Debug().Msg("Identity created")

	// Spend the invite before touching the profile: if we stop here the
	// invite cannot create a second identity.
	err = retry(ctx, c.policy.Attempts, c.policy.RetryDelay, func(attempt int) (bool, error) {
		done, err := c.manager.consume(ctx, inv.Token)
		if err != nil {
			l.Warn().Err(err).Int("attempt", attempt).Msg("Failed to consume invite")
		}
		return done, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, persistenceError("redemption interrupted", err)
		}
		l.Warn().Err(err).Msg("Invite not consumed yet, retrying after profile reconciliation")
	}

	if err := sleep(ctx, c.policy.SettleDelay); err != nil {
		return nil, persistenceError("redemption interrupted", err)
	}

	want := &models.Profile{
		ID:             identityID,
		OrganizationID: inv.OrganizationID,
		Email:          inv.Email,
		Name:           name,
		Role:           inv.Role,
		IsActive:       true,
	}

	var profile *models.Profile
	err = retry(ctx, c.policy.Attempts, c.policy.RetryDelay, func(attempt int) (bool, error) {
		p, err := c.reconcile(ctx, want)
		if err != nil {
			l.Warn().Err(err).Int("attempt", attempt).Msg("Failed to reconcile profile")
			return false, err
		}
		if p == nil {
			l.Debug().Int("attempt", attempt).Msg("Profile not converged yet")
			return false, nil
		}
		profile = p
		return true, nil
	})
	if err != nil {
		l.Error().Err(err).Msg("Profile did not converge, invite stays used")
		return nil, newError(KindConflict, "profile could not be reconciled", err)
	}

	return c.finalize(ctx, inv, profile), nil
}

// reconcile makes the profile of want.ID match want. It returns the stored
// profile once organization and role match, nil when another round is needed.
func (c *Coordinator) reconcile(ctx context.Context, want *models.Profile) (*models.Profile, error) {
	cur, err := c.profiles.Get(ctx, want.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p := *want
		if err := c.profiles.Insert(ctx, &p); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				// lost the race against the identity provider's writer,
				// update its row next round.
				return nil, nil
			}
			return nil, err
		}
	case err != nil:
		return nil, err
	case !sameMembership(cur, want):
		p := *want
		if err := c.profiles.Update(ctx, &p); err != nil {
			return nil, err
		}
	}

	got, err := c.profiles.Get(ctx, want.ID)
	if err != nil {
		return nil, err
	}
	if got.OrganizationID != want.OrganizationID || got.Role != want.Role {
		return nil, nil
	}
	return got, nil
}

func sameMembership(a, b *models.Profile) bool {
	return a.OrganizationID == b.OrganizationID &&
		a.Email == b.Email &&
		a.Name == b.Name &&
		a.Role == b.Role &&
		a.IsActive == b.IsActive
}

// finalize re-reads invite and profile. An invite still pending is consumed
// once more, failures are logged since the profile is already correct.
func (c *Coordinator) finalize(ctx context.Context, inv *models.Invite, converged *models.Profile) *models.Profile {
	l := logger.With().Str("invite_id", inv.ID).Str("identity_id", converged.ID).Logger()

	cur, err := c.manager.invites.GetByToken(ctx, inv.Token)
	switch {
	case err != nil:
		l.Error().Err(err).Msg("Failed to re-read invite after redemption")
	case !cur.Used:
		done, err := c.manager.consume(ctx, inv.Token)
		if err != nil || !done {
			l.Error().Err(err).Msg("Invite still pending after redemption, repair it")
		}
	}

	p, err := c.profiles.Get(ctx, converged.ID)
	if err != nil {
		l.Error().Err(err).Msg("Failed to re-read profile after redemption")
		return converged
	}

	l.Info().Str("organization_id", p.OrganizationID).Str("role", p.Role).Msg("Invite redeemed")
	return p
}
