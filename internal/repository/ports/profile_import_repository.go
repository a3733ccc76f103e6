package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
)

type ProfileImportRepository interface {
	CreateImport(ctx context.Context, imp *domain.ProfileImport) (*domain.ProfileImport, error)
	InsertDetails(ctx context.Context, importID uuid.UUID, rows []domain.ImportProfileRow) ([]domain.ProfileImportDetail, error)
	FindImportByID(ctx context.Context, id uuid.UUID) (*domain.ProfileImport, error)
	FindImportByJobID(ctx context.Context, jobID uuid.UUID) (*domain.ProfileImport, error)
	// ClaimImport moves an import from `from` to `to`; it reports false when
	// the import was not in the expected status.
	ClaimImport(ctx context.Context, id uuid.UUID, from, to domain.ImportStatus) (bool, error)
	UpdateImportStatus(ctx context.Context, id uuid.UUID, status domain.ImportStatus) error
	ListDetails(ctx context.Context, importID uuid.UUID) ([]domain.ProfileImportDetail, error)
	FindDetailByEmail(ctx context.Context, importID uuid.UUID, email string) (*domain.ProfileImportDetail, error)
	UpdateDetailStatus(ctx context.Context, id uuid.UUID, status domain.ImportStatus, errMsg *string) error
	CountDetailStatuses(ctx context.Context, importID uuid.UUID) (domain.ImportStatusCounts, error)
	FailStalePending(ctx context.Context, olderThan time.Time, message string) ([]uuid.UUID, error)
}
