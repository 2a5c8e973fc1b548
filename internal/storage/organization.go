package storage

import (
	"context"

	"github.com/charleshuang3/onboard/internal/gormw"
	"github.com/charleshuang3/onboard/internal/models"
)

func CreateOrganization(ctx context.Context, db *gormw.DB, org *models.Organization) error {
	return translate(db.WithContext(ctx).Create(org).Error)
}

func GetOrganizationByID(ctx context.Context, db *gormw.DB, id string) (*models.Organization, error) {
	org := &models.Organization{}
	if err := db.WithContext(ctx).Where("id = ?", id).First(org).Error; err != nil {
		return nil, translate(err)
	}
	return org, nil
}
