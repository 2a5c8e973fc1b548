package storage

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/onboard/internal/gormw"
)

const (
	displayNameTTL  = 10 * time.Minute
	maxDisplayNames = 10000
)

var (
	logger = log.With().Str("component", "storage").Logger()
)

// Directory resolves display names used in invite emails. Names are cached
// for a short time, a renamed organization shows up after at most
// displayNameTTL.
type Directory struct {
	db    *gormw.DB
	cache *ristretto.Cache[string, string]
}

func NewDirectory(db *gormw.DB) *Directory {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxDisplayNames * 10,
		MaxCost:     maxDisplayNames,
		BufferItems: 64,
	})

	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create display name cache")
	}

	return &Directory{
		db:    db,
		cache: c,
	}
}

func (d *Directory) OrganizationName(ctx context.Context, id string) (string, error) {
	return d.lookup(ctx, "org:"+id, func() (string, error) {
		org, err := GetOrganizationByID(ctx, d.db, id)
		if err != nil {
			return "", err
		}
		return org.Name, nil
	})
}

func (d *Directory) ProfileName(ctx context.Context, id string) (string, error) {
	return d.lookup(ctx, "profile:"+id, func() (string, error) {
		p, err := NewProfileStore(d.db).Get(ctx, id)
		if err != nil {
			return "", err
		}
		return p.Name, nil
	})
}

func (d *Directory) lookup(_ context.Context, key string, load func() (string, error)) (string, error) {
	if name, ok := d.cache.Get(key); ok {
		return name, nil
	}

	name, err := load()
	if err != nil {
		return "", err
	}

	d.cache.SetWithTTL(key, name, 1, displayNameTTL)
	d.cache.Wait()
	return name, nil
}
