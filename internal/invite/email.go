package invite

import (
	"strings"

	"github.com/badoux/checkmail"

	"github.com/charleshuang3/onboard/internal/models"
)

// NormalizeEmail trims and lower-cases email and checks its format.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", newError(KindValidation, "email is required", nil)
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return "", newError(KindValidation, "invalid email format", err)
	}
	return email, nil
}

func validateRole(role string) error {
	if !models.IsValidRole(role) {
		return newError(KindValidation, "role "+role+" is not allowed", nil)
	}
	return nil
}
