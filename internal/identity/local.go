// Package identity provides a login identity provider backed by the service
// database.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/charleshuang3/onboard/internal/gormw"
	"github.com/charleshuang3/onboard/internal/invite"
	"github.com/charleshuang3/onboard/internal/models"
	"github.com/charleshuang3/onboard/internal/storage"
)

var (
	logger = log.With().Str("component", "identity").Logger()
)

type Config struct {
	// SkeletalProfileTrigger makes the provider write an empty profile for
	// every new identity on its own, the way a database side trigger does.
	SkeletalProfileTrigger bool `yaml:"skeletal_profile_trigger"`

	// TriggerDelay postpones the skeletal profile write.
	TriggerDelay time.Duration `yaml:"trigger_delay"`
}

type LocalProvider struct {
	db   *gormw.DB
	conf *Config

	triggers sync.WaitGroup
}

func NewLocalProvider(conf *Config, db *gormw.DB) *LocalProvider {
	return &LocalProvider{
		db:   db,
		conf: conf,
	}
}

// CreateIdentity stores a new identity for email and returns its id. It fails
// with invite.ErrIdentityExists when email is taken.
func (p *LocalProvider) CreateIdentity(ctx context.Context, email, password string, meta invite.IdentityMetadata) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", errors.New("email and password are required")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	identity := &models.Identity{
		ID:             uuid.NewString(),
		Email:          email,
		Name:           meta.Name,
		HashedPassword: string(hashedPassword),
	}
	if err := p.db.WithContext(ctx).Create(identity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", invite.ErrIdentityExists
		}
		return "", err
	}

	if p.conf.SkeletalProfileTrigger {
		p.fireTrigger(identity)
	}
	return identity.ID, nil
}

// Wait blocks until pending skeletal profile writes finish.
func (p *LocalProvider) Wait() {
	p.triggers.Wait()
}

func (p *LocalProvider) fireTrigger(identity *models.Identity) {
	p.triggers.Add(1)
	go func() {
		defer p.triggers.Done()

		if p.conf.TriggerDelay > 0 {
			time.Sleep(p.conf.TriggerDelay)
		}

		skeletal := &models.Profile{
			ID:    identity.ID,
			Email: identity.Email,
			Name:  identity.Name,
		}
		err := storage.NewProfileStore(p.db).Insert(context.Background(), skeletal)
		if err != nil && !errors.Is(err, storage.ErrDuplicate) {
			logger.Error().Err(err).Str("identity_id", identity.ID).Msg("Failed to write skeletal profile")
		}
	}()
}
