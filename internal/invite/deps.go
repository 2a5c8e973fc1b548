package invite

import (
	"context"
	"time"

	"github.com/charleshuang3/onboard/internal/models"
	"github.com/charleshuang3/onboard/internal/storage"
)

// InviteStore is the durable, organization scoped storage of invites. Point
// lookups by token must observe earlier writes.
type InviteStore interface {
	Create(ctx context.Context, invite *models.Invite) error
	GetByToken(ctx context.Context, token string) (*models.Invite, error)
	GetByID(ctx context.Context, id string) (*models.Invite, error)
	ListActive(ctx context.Context, organizationID, email string, now time.Time) ([]*models.Invite, error)
	Rotate(ctx context.Context, id, token string, expiresAt time.Time) (int64, error)
	MarkUsedByToken(ctx context.Context, token string, at time.Time) (int64, error)
	MarkUsedByID(ctx context.Context, id string, at time.Time) (int64, error)
	Delete(ctx context.Context, id string) (int64, error)
}

// ProfileStore holds one profile per identity. Insert reports
// storage.ErrDuplicate when the identity already has one.
type ProfileStore interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
	Insert(ctx context.Context, profile *models.Profile) error
	Update(ctx context.Context, profile *models.Profile) error
	ListByOrganization(ctx context.Context, organizationID string, filter storage.ProfileFilter) ([]*models.Profile, error)
}

type IdentityMetadata struct {
	Name string
}

// IdentityProvider creates login identities. An implementation may write a
// skeletal profile for the new identity on its own, at any time.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, email, password string, meta IdentityMetadata) (string, error)
}

type InviteMessage struct {
	Email            string
	InviteURL        string
	Role             string
	OrganizationName string
	InviterName      string
}

// NotificationDispatcher sends invite emails. It reports failures as
// delivered == false and never aborts the caller.
type NotificationDispatcher interface {
	SendInvite(ctx context.Context, msg *InviteMessage) (delivered bool)
}

// Directory resolves display names for invite emails.
type Directory interface {
	OrganizationName(ctx context.Context, id string) (string, error)
	ProfileName(ctx context.Context, id string) (string, error)
}
