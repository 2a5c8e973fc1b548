package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InviteTTL is how long an invite stays redeemable after it is created or resent.
const InviteTTL = 7 * 24 * time.Hour

type Invite struct {
	ID             string `gorm:"primarykey"`
	OrganizationID string `gorm:"index:idx_invite_org_email"`
	Email          string `gorm:"index:idx_invite_org_email"`
	Role           string
	Token          string `gorm:"uniqueIndex"`
	InvitedBy      string
	CreatedAt      time.Time
	ExpiresAt      time.Time `gorm:"index"`
	Used           bool
	UsedAt         *time.Time
}

func (i *Invite) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

func (i *Invite) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
