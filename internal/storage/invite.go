package storage

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/charleshuang3/onboard/internal/gormw"
	"github.com/charleshuang3/onboard/internal/models"
)

const (
	// unused invites expired longer than this are removed by the cleaner.
	expiredInviteRetention = 30 * 24 * time.Hour
)

type InviteStore struct {
	db *gormw.DB
}

func NewInviteStore(db *gormw.DB) *InviteStore {
	return &InviteStore{db: db}
}

func (s *InviteStore) Create(ctx context.Context, invite *models.Invite) error {
	return translate(s.db.WithContext(ctx).Create(invite).Error)
}

func (s *InviteStore) GetByToken(ctx context.Context, token string) (*models.Invite, error) {
	res := &models.Invite{}
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(res).Error; err != nil {
		return nil, translate(err)
	}
	return res, nil
}

func (s *InviteStore) GetByID(ctx context.Context, id string) (*models.Invite, error) {
	res := &models.Invite{}
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(res).Error; err != nil {
		return nil, translate(err)
	}
	return res, nil
}

// ListActive returns unused, unexpired invites of the organization, oldest
// first. An empty email matches every invitee.
func (s *InviteStore) ListActive(ctx context.Context, organizationID, email string, now time.Time) ([]*models.Invite, error) {
	q := s.db.WithContext(ctx).
		Where("organization_id = ? AND used = ? AND expires_at >= ?", organizationID, false, now)
	if email != "" {
		q = q.Where("email = ?", email)
	}

	var res []*models.Invite
	if err := q.Order("created_at").Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// Rotate replaces token and expiry of an unused invite. It returns the number
// of rows changed, 0 means the invite is gone or already used.
func (s *InviteStore) Rotate(ctx context.Context, id, token string, expiresAt time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Invite{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{
			"token":      token,
			"expires_at": expiresAt,
			"used":       false,
			"used_at":    nil,
		})
	return res.RowsAffected, translate(res.Error)
}

// MarkUsedByToken flips used to true. Already used invites are left untouched,
// so used_at keeps the time of the first transition.
func (s *InviteStore) MarkUsedByToken(ctx context.Context, token string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Invite{}).
		Where("token = ? AND used = ?", token, false).
		Updates(map[string]any{"used": true, "used_at": at})
	return res.RowsAffected, res.Error
}

func (s *InviteStore) MarkUsedByID(ctx context.Context, id string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Invite{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{"used": true, "used_at": at})
	return res.RowsAffected, res.Error
}

// Delete hard deletes an unused invite and returns the number of rows removed.
func (s *InviteStore) Delete(ctx context.Context, id string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND used = ?", id, false).
		Delete(&models.Invite{})
	return res.RowsAffected, res.Error
}

func deleteLongExpiredInvites(db *gormw.DB, now time.Time) (int64, error) {
	res := db.Where("used = ? AND expires_at < ?", false, now.Add(-expiredInviteRetention)).
		Delete(&models.Invite{})
	return res.RowsAffected, res.Error
}

// Expired invites stay in database forever if not register a cleaner.
func RegisterExpiredInvitesCleaner(scheduler gocron.Scheduler, db *gormw.DB) error {
	_, err := scheduler.NewJob(
		gocron.CronJob(
			// 4am Daily
			"0 4 * * *",
			false,
		),
		gocron.NewTask(
			func() {
				n, err := deleteLongExpiredInvites(db, time.Now())
				if err != nil {
					logger.Error().Err(err).Msg("Failed to clean up expired invites")
					return
				}
				logger.Info().Int64("deleted", n).Msg("Cleaned up expired invites")
			},
		),
	)
	return err
}
