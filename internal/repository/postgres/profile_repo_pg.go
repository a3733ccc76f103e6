package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
)

const profileColumns = `id, public_name, email, primary_user_id, safe_level, preferred_language, created_at, updated_at, deleted_at`

type ProfileRepository struct {
	db *sqlx.DB
}

func NewProfileRepo(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

type lookupRow struct {
	ProfileID       uuid.UUID     `db:"profile_id"`
	ProfileDetailID uuid.NullUUID `db:"profile_detail_id"`
}

// LookupByEmail resolves an email to a profile. A match on profiles.email
// always wins over a match on an "email" attribute of a latest snapshot.
func (r *ProfileRepository) LookupByEmail(ctx context.Context, email string) (*domain.ProfileLookup, error) {
	const direct = `
		SELECT p.id AS profile_id, pd.id AS profile_detail_id
		FROM profiles p
		LEFT JOIN LATERAL (
			SELECT d.id
			FROM profile_details d
			WHERE d.profile_id = p.id AND d.is_latest
			ORDER BY d.created_at DESC
			LIMIT 1
		) pd ON TRUE
		WHERE lower(p.email) = $1 AND p.deleted_at IS NULL
		ORDER BY p.created_at DESC
		LIMIT 1
	`
	const secondary = `
		SELECT p.id AS profile_id, pd.id AS profile_detail_id
		FROM profile_data d
		JOIN profile_details pd ON pd.id = d.profile_details_id AND pd.is_latest
		JOIN profiles p ON p.id = pd.profile_id AND p.deleted_at IS NULL
		WHERE d.name = 'email' AND lower(d.value) = $1
		ORDER BY p.created_at DESC
		LIMIT 1
	`

	normalized := domain.NormalizeEmail(email)
	q := conn(ctx, r.db)

	for _, query := range []string{direct, secondary} {
		var row lookupRow
		err := q.GetContext(ctx, &row, query, normalized)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result := &domain.ProfileLookup{Exists: true, ProfileID: &row.ProfileID}
		if row.ProfileDetailID.Valid {
			detailID := row.ProfileDetailID.UUID
			result.ProfileDetailID = &detailID
		}
		return result, nil
	}
	return &domain.ProfileLookup{Exists: false}, nil
}

func (r *ProfileRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1 AND deleted_at IS NULL`
	var profile domain.Profile
	if err := conn(ctx, r.db).GetContext(ctx, &profile, query, id); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepository) FindByPrimaryUserID(ctx context.Context, primaryUserID string) (*domain.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE primary_user_id = $1 AND deleted_at IS NULL`
	var profile domain.Profile
	if err := conn(ctx, r.db).GetContext(ctx, &profile, query, primaryUserID); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepository) Create(ctx context.Context, profile *domain.Profile) (*domain.Profile, error) {
	query := `
		INSERT INTO profiles (public_name, email, primary_user_id, safe_level, preferred_language)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + profileColumns

	var inserted domain.Profile
	if err := conn(ctx, r.db).GetContext(ctx, &inserted, query,
		profile.PublicName,
		domain.NormalizeEmail(profile.Email),
		profile.PrimaryUserID,
		profile.SafeLevel,
		preferredLanguage(profile.PreferredLanguage),
	); err != nil {
		return nil, err
	}
	return &inserted, nil
}

func (r *ProfileRepository) Update(ctx context.Context, profile *domain.Profile) (*domain.Profile, error) {
	query := `
		UPDATE profiles
		SET public_name = $2,
		    email = $3,
		    primary_user_id = $4,
		    safe_level = $5,
		    preferred_language = $6,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + profileColumns

	var updated domain.Profile
	if err := conn(ctx, r.db).GetContext(ctx, &updated, query,
		profile.ID,
		profile.PublicName,
		domain.NormalizeEmail(profile.Email),
		profile.PrimaryUserID,
		profile.SafeLevel,
		preferredLanguage(profile.PreferredLanguage),
	); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *ProfileRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE profiles SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id)
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

// LockForUpdate takes a row lock on the profile for the rest of the
// surrounding transaction. Snapshot writers for the same profile serialize on it.
func (r *ProfileRepository) LockForUpdate(ctx context.Context, id uuid.UUID) error {
	const query = `SELECT id FROM profiles WHERE id = $1 FOR UPDATE`
	var locked uuid.UUID
	return conn(ctx, r.db).GetContext(ctx, &locked, query, id)
}

func preferredLanguage(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}
