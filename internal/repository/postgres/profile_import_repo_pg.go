package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
)

const (
	importColumns = `id, job_id, organisation_id, status, source, metadata, job_token, created_at, updated_at`
	detailColumns = `id, profile_import_id, position, data, status, error_message, created_at, updated_at`
)

type ProfileImportRepository struct {
	db *sqlx.DB
}

func NewProfileImportRepo(db *sqlx.DB) *ProfileImportRepository {
	return &ProfileImportRepository{db: db}
}

func (r *ProfileImportRepository) CreateImport(ctx context.Context, imp *domain.ProfileImport) (*domain.ProfileImport, error) {
	query := `
		INSERT INTO profile_imports (id, job_id, organisation_id, status, source, metadata, job_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + importColumns

	var inserted domain.ProfileImport
	if err := conn(ctx, r.db).GetContext(ctx, &inserted, query,
		imp.ID,
		imp.JobID,
		imp.OrganisationID,
		imp.Status,
		imp.Source,
		metadataArg(imp.Metadata),
		imp.JobToken,
	); err != nil {
		return nil, err
	}
	return &inserted, nil
}

// InsertDetails stores one pending line item per row, keeping input order.
func (r *ProfileImportRepository) InsertDetails(ctx context.Context, importID uuid.UUID, rows []domain.ImportProfileRow) ([]domain.ProfileImportDetail, error) {
	if len(rows) == 0 {
		return []domain.ProfileImportDetail{}, nil
	}
	payloads := make([]string, len(rows))
	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		payloads[i] = string(data)
	}

	query := `
		WITH inserted AS (
			INSERT INTO profile_import_details (profile_import_id, position, data, status)
			SELECT $1, t.position, t.data::jsonb, $3
			FROM unnest($2::text[]) WITH ORDINALITY AS t(data, position)
			RETURNING ` + detailColumns + `
		)
		SELECT ` + detailColumns + ` FROM inserted ORDER BY position ASC`

	details := make([]domain.ProfileImportDetail, 0, len(rows))
	if err := conn(ctx, r.db).SelectContext(ctx, &details, query, importID, pq.Array(payloads), domain.ImportStatusPending); err != nil {
		return nil, err
	}
	return details, nil
}

func (r *ProfileImportRepository) FindImportByID(ctx context.Context, id uuid.UUID) (*domain.ProfileImport, error) {
	query := `SELECT ` + importColumns + ` FROM profile_imports WHERE id = $1`
	var imp domain.ProfileImport
	if err := conn(ctx, r.db).GetContext(ctx, &imp, query, id); err != nil {
		return nil, err
	}
	return &imp, nil
}

func (r *ProfileImportRepository) FindImportByJobID(ctx context.Context, jobID uuid.UUID) (*domain.ProfileImport, error) {
	query := `SELECT ` + importColumns + ` FROM profile_imports WHERE job_id = $1`
	var imp domain.ProfileImport
	if err := conn(ctx, r.db).GetContext(ctx, &imp, query, jobID); err != nil {
		return nil, err
	}
	return &imp, nil
}

func (r *ProfileImportRepository) ClaimImport(ctx context.Context, id uuid.UUID, from, to domain.ImportStatus) (bool, error) {
	const query = `
		UPDATE profile_imports
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *ProfileImportRepository) UpdateImportStatus(ctx context.Context, id uuid.UUID, status domain.ImportStatus) error {
	const query = `UPDATE profile_imports SET status = $2, updated_at = NOW() WHERE id = $1`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *ProfileImportRepository) ListDetails(ctx context.Context, importID uuid.UUID) ([]domain.ProfileImportDetail, error) {
	query := `SELECT ` + detailColumns + ` FROM profile_import_details WHERE profile_import_id = $1 ORDER BY position ASC`
	details := make([]domain.ProfileImportDetail, 0)
	if err := conn(ctx, r.db).SelectContext(ctx, &details, query, importID); err != nil {
		return nil, err
	}
	return details, nil
}

func (r *ProfileImportRepository) FindDetailByEmail(ctx context.Context, importID uuid.UUID, email string) (*domain.ProfileImportDetail, error) {
	query := `
		SELECT ` + detailColumns + `
		FROM profile_import_details
		WHERE profile_import_id = $1 AND lower(data ->> 'email') = $2
		ORDER BY position ASC
		LIMIT 1`
	var detail domain.ProfileImportDetail
	if err := conn(ctx, r.db).GetContext(ctx, &detail, query, importID, domain.NormalizeEmail(email)); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (r *ProfileImportRepository) UpdateDetailStatus(ctx context.Context, id uuid.UUID, status domain.ImportStatus, errMsg *string) error {
	const query = `
		UPDATE profile_import_details
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, status, nullStringPtr(errMsg))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountDetailStatuses buckets line items for the completion rule. Cancelled
// and unrecoverable items count as failed, success counts as completed, and
// processing items count towards the total only.
func (r *ProfileImportRepository) CountDetailStatuses(ctx context.Context, importID uuid.UUID) (domain.ImportStatusCounts, error) {
	const query = `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status IN ('completed', 'success')) AS completed,
			COUNT(*) FILTER (WHERE status IN ('failed', 'cancelled', 'unrecoverable')) AS failed,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending
		FROM profile_import_details
		WHERE profile_import_id = $1
	`
	var counts domain.ImportStatusCounts
	if err := conn(ctx, r.db).GetContext(ctx, &counts, query, importID); err != nil {
		return domain.ImportStatusCounts{}, err
	}
	return counts, nil
}

// FailStalePending fails line items that have waited for identity
// confirmation since before olderThan and returns the affected import ids.
func (r *ProfileImportRepository) FailStalePending(ctx context.Context, olderThan time.Time, message string) ([]uuid.UUID, error) {
	const query = `
		WITH failed AS (
			UPDATE profile_import_details d
			SET status = 'failed', error_message = $2, updated_at = NOW()
			FROM profile_imports i
			WHERE i.id = d.profile_import_id
			  AND i.status = 'processing'
			  AND d.status = 'pending'
			  AND d.updated_at < $1
			RETURNING d.profile_import_id
		)
		SELECT DISTINCT profile_import_id FROM failed
	`
	ids := make([]uuid.UUID, 0)
	if err := conn(ctx, r.db).SelectContext(ctx, &ids, query, olderThan, message); err != nil {
		return nil, err
	}
	return ids, nil
}

func metadataArg(m *domain.ImportMetadata) any {
	if m == nil {
		return nil
	}
	return *m
}

func nullStringPtr(ptr *string) sql.NullString {
	if ptr == nil || *ptr == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *ptr, Valid: true}
}
