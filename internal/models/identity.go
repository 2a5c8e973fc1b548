package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Identity is a login identity owned by the local identity provider. The rest
// of the system only ever holds its ID.
type Identity struct {
	ID             string `gorm:"primarykey"`
	Email          string `gorm:"uniqueIndex"`
	Name           string
	HashedPassword string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (u *Identity) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)) == nil
}
