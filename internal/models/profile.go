package models

import "time"

// Profile is the organization membership record of an identity. ID is the
// identity id assigned by the identity provider.
//
// A skeletal profile, as written by an identity provider side trigger, has an
// empty OrganizationID and Role.
type Profile struct {
	ID             string `gorm:"primarykey"`
	OrganizationID string `gorm:"index:idx_profile_org_email"`
	Email          string `gorm:"index:idx_profile_org_email"`
	Name           string
	Role           string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p *Profile) IsAdminOf(organizationID string) bool {
	return p.IsActive && p.Role == RoleAdmin && p.OrganizationID != "" && p.OrganizationID == organizationID
}
