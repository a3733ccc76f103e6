package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/ports"
)

const pgUniqueViolation = "23505"

var ErrConcurrentDetailsWrite = errors.New("another writer created the latest profile details first")

// ProfileDetailsError wraps any failure of a snapshot write. The write has
// been rolled back when it is returned.
type ProfileDetailsError struct {
	ProfileID      uuid.UUID
	OrganisationID string
	Err            error
}

func (e *ProfileDetailsError) Error() string {
	return fmt.Sprintf("profile details for %s in %s: %v", e.ProfileID, e.OrganisationID, e.Err)
}

func (e *ProfileDetailsError) Unwrap() error {
	return e.Err
}

type ProfileDetailsService struct {
	tx       ports.Transactor
	profiles ports.ProfileRepository
	details  ports.ProfileDetailsRepository
}

func NewProfileDetailsService(tx ports.Transactor, profiles ports.ProfileRepository, details ports.ProfileDetailsRepository) *ProfileDetailsService {
	return &ProfileDetailsService{tx: tx, profiles: profiles, details: details}
}

// CreateUpdateProfileDetails merges attrs into the latest snapshot of the
// profile for the organisation. A new snapshot is written only when the
// merged attributes differ; the returned bool reports whether one was.
func (s *ProfileDetailsService) CreateUpdateProfileDetails(ctx context.Context, organisationID string, profileID uuid.UUID, attrs domain.Attributes) (*domain.ProfileDetails, bool, error) {
	var (
		result  *domain.ProfileDetails
		changed bool
	)

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.profiles.LockForUpdate(ctx, profileID); err != nil {
			return errors.Wrap(err, "lock profile")
		}

		latest, err := s.details.FindLatest(ctx, profileID, organisationID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return errors.Wrap(err, "load latest details")
		}

		existing := domain.Attributes{}
		if latest != nil {
			existing, err = domain.AttributesFromData(latest.Data)
			if err != nil {
				return err
			}
		}

		merged := existing.Merge(attrs.Normalize())
		if latest != nil && merged.Equal(existing) {
			result = latest
			return nil
		}

		if _, err := s.details.DemoteLatest(ctx, profileID, organisationID); err != nil {
			return errors.Wrap(err, "demote latest details")
		}
		inserted, err := s.details.Insert(ctx, &domain.ProfileDetails{
			ProfileID:      profileID,
			OrganisationID: organisationID,
			IsLatest:       true,
		})
		if err != nil {
			return errors.Wrap(err, "insert details")
		}
		rows := merged.Rows()
		if err := s.details.InsertData(ctx, inserted.ID, rows); err != nil {
			return errors.Wrap(err, "insert details data")
		}
		for i := range rows {
			rows[i].ProfileDetailsID = inserted.ID
		}
		inserted.Data = rows
		result = inserted
		changed = true
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			err = errors.Wrap(ErrConcurrentDetailsWrite, err.Error())
		}
		return nil, false, &ProfileDetailsError{ProfileID: profileID, OrganisationID: organisationID, Err: err}
	}
	return result, changed, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
