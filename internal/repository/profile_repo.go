package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/aifeed/chatdock/internal/models"
)

// ErrProfileNotFound indicates the requested user has no profile snapshot.
var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepository resolves denormalized user snapshots from the social-graph
// replica. Batched lookups tolerate partial results: unknown ids simply
// produce no row.
type ProfileRepository interface {
	ResolveByIDs(ctx context.Context, ids []string) ([]models.Profile, error)
	ResolveByID(ctx context.Context, id string) (models.Profile, error)
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository constructs a profile repository backed by GORM.
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) ResolveByIDs(ctx context.Context, ids []string) ([]models.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var profiles []models.Profile
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&profiles).Error; err != nil {
		return nil, err
	}

	return profiles, nil
}

func (r *profileRepository) ResolveByID(ctx context.Context, id string) (models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).First(&profile, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Profile{}, ErrProfileNotFound
		}
		return models.Profile{}, err
	}
	return profile, nil
}
