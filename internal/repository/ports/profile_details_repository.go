package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
)

type ProfileDetailsRepository interface {
	// FindLatest returns the latest snapshot with its data rows, or sql.ErrNoRows.
	FindLatest(ctx context.Context, profileID uuid.UUID, organisationID string) (*domain.ProfileDetails, error)
	DemoteLatest(ctx context.Context, profileID uuid.UUID, organisationID string) (int64, error)
	Insert(ctx context.Context, details *domain.ProfileDetails) (*domain.ProfileDetails, error)
	InsertData(ctx context.Context, detailsID uuid.UUID, rows []domain.ProfileData) error
}
