package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
)

type ProfileRepository interface {
	LookupByEmail(ctx context.Context, email string) (*domain.ProfileLookup, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
	FindByPrimaryUserID(ctx context.Context, primaryUserID string) (*domain.Profile, error)
	Create(ctx context.Context, profile *domain.Profile) (*domain.Profile, error)
	Update(ctx context.Context, profile *domain.Profile) (*domain.Profile, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	LockForUpdate(ctx context.Context, id uuid.UUID) error
}
