package storage

import (
	"context"

	"github.com/charleshuang3/onboard/internal/gormw"
	"github.com/charleshuang3/onboard/internal/models"
)

var (
	profileUpdateColumns = []string{"organization_id", "email", "name", "role", "is_active", "updated_at"}
)

type ProfileFilter struct {
	Role  string
	Email string
}

type ProfileStore struct {
	db *gormw.DB
}

func NewProfileStore(db *gormw.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func (s *ProfileStore) Get(ctx context.Context, id string) (*models.Profile, error) {
	res := &models.Profile{}
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(res).Error; err != nil {
		return nil, translate(err)
	}
	return res, nil
}

// Insert fails with ErrDuplicate when the identity already has a profile.
func (s *ProfileStore) Insert(ctx context.Context, profile *models.Profile) error {
	return translate(s.db.WithContext(ctx).Create(profile).Error)
}

// Update writes the membership columns of profile.ID, zero values included.
func (s *ProfileStore) Update(ctx context.Context, profile *models.Profile) error {
	res := s.db.WithContext(ctx).Model(&models.Profile{ID: profile.ID}).
		Select(profileUpdateColumns).
		Updates(profile)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ProfileStore) ListByOrganization(ctx context.Context, organizationID string, filter ProfileFilter) ([]*models.Profile, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ?", organizationID)
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.Email != "" {
		q = q.Where("email = ?", filter.Email)
	}

	var res []*models.Profile
	if err := q.Order("created_at").Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}
