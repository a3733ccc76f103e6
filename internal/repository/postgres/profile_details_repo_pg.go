package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
)

type ProfileDetailsRepository struct {
	db *sqlx.DB
}

func NewProfileDetailsRepo(db *sqlx.DB) *ProfileDetailsRepository {
	return &ProfileDetailsRepository{db: db}
}

func (r *ProfileDetailsRepository) FindLatest(ctx context.Context, profileID uuid.UUID, organisationID string) (*domain.ProfileDetails, error) {
	const detailsQuery = `
		SELECT id, profile_id, organisation_id, is_latest, created_at
		FROM profile_details
		WHERE profile_id = $1 AND organisation_id = $2 AND is_latest
		ORDER BY created_at DESC
		LIMIT 1
	`
	const dataQuery = `
		SELECT id, profile_details_id, name, value_type, value
		FROM profile_data
		WHERE profile_details_id = $1
		ORDER BY name ASC
	`

	q := conn(ctx, r.db)
	var details domain.ProfileDetails
	if err := q.GetContext(ctx, &details, detailsQuery, profileID, organisationID); err != nil {
		return nil, err
	}
	data := make([]domain.ProfileData, 0)
	if err := q.SelectContext(ctx, &data, dataQuery, details.ID); err != nil {
		return nil, err
	}
	details.Data = data
	return &details, nil
}

func (r *ProfileDetailsRepository) DemoteLatest(ctx context.Context, profileID uuid.UUID, organisationID string) (int64, error) {
	const query = `
		UPDATE profile_details
		SET is_latest = FALSE
		WHERE profile_id = $1 AND organisation_id = $2 AND is_latest
	`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, profileID, organisationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ProfileDetailsRepository) Insert(ctx context.Context, details *domain.ProfileDetails) (*domain.ProfileDetails, error) {
	const query = `
		INSERT INTO profile_details (profile_id, organisation_id, is_latest)
		VALUES ($1, $2, $3)
		RETURNING id, profile_id, organisation_id, is_latest, created_at
	`
	var inserted domain.ProfileDetails
	if err := conn(ctx, r.db).GetContext(ctx, &inserted, query, details.ProfileID, details.OrganisationID, details.IsLatest); err != nil {
		return nil, err
	}
	return &inserted, nil
}

// InsertData writes all rows of a snapshot with a single statement.
func (r *ProfileDetailsRepository) InsertData(ctx context.Context, detailsID uuid.UUID, rows []domain.ProfileData) error {
	if len(rows) == 0 {
		return nil
	}
	const query = `
		INSERT INTO profile_data (profile_details_id, name, value_type, value)
		SELECT $1, t.name, t.value_type, t.value
		FROM unnest($2::text[], $3::text[], $4::text[]) AS t(name, value_type, value)
	`
	names := make([]string, len(rows))
	types := make([]string, len(rows))
	values := make([]string, len(rows))
	for i, row := range rows {
		names[i] = row.Name
		types[i] = string(row.ValueType)
		values[i] = row.Value
	}
	_, err := conn(ctx, r.db).ExecContext(ctx, query, detailsID, pq.Array(names), pq.Array(types), pq.Array(values))
	return err
}
