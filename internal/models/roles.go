package models

import (
	"github.com/hashicorp/go-set/v3"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

var (
	roles = set.From([]string{RoleAdmin, RoleMember})
)

// IsValidRole reports whether role is one of the roles an invite can grant.
func IsValidRole(role string) bool {
	return roles.Contains(role)
}
