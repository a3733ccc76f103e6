package service

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/ports"
)

var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrEmailRequired    = errors.New("email is required")
	ErrInvalidSafeLevel = errors.New("safe level must be between 0 and 10")
	ErrInvalidLanguage  = errors.New("preferred language cannot be empty")
	ErrNoProfileChanges = errors.New("no profile changes supplied")
)

const maxSafeLevel = 10

type ProfileService struct {
	profiles ports.ProfileRepository
	details  ports.ProfileDetailsRepository
}

func NewProfileService(profiles ports.ProfileRepository, details ports.ProfileDetailsRepository) *ProfileService {
	return &ProfileService{profiles: profiles, details: details}
}

// Get returns the profile and, when organisationID is set, its latest
// snapshot for that organisation.
func (s *ProfileService) Get(ctx context.Context, id uuid.UUID, organisationID string) (*domain.ProfileView, error) {
	profile, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	view := &domain.ProfileView{Profile: *profile}
	organisationID = strings.TrimSpace(organisationID)
	if organisationID == "" {
		return view, nil
	}

	details, err := s.details.FindLatest(ctx, profile.ID, organisationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return view, nil
		}
		return nil, err
	}
	attrs, err := domain.AttributesFromData(details.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode profile %s details", profile.ID)
	}
	view.Details = details
	view.Attributes = attrs
	return view, nil
}

func (s *ProfileService) Update(ctx context.Context, id uuid.UUID, update domain.ProfileUpdate) (*domain.Profile, error) {
	if update.PublicName == nil && update.PreferredLanguage == nil && update.SafeLevel == nil {
		return nil, ErrNoProfileChanges
	}

	profile, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	if update.PublicName != nil {
		profile.PublicName = strings.TrimSpace(*update.PublicName)
	}
	if update.PreferredLanguage != nil {
		lang := strings.ToLower(strings.TrimSpace(*update.PreferredLanguage))
		if lang == "" {
			return nil, ErrInvalidLanguage
		}
		profile.PreferredLanguage = lang
	}
	if update.SafeLevel != nil {
		if *update.SafeLevel < 0 || *update.SafeLevel > maxSafeLevel {
			return nil, ErrInvalidSafeLevel
		}
		profile.SafeLevel = *update.SafeLevel
	}

	updated, err := s.profiles.Update(ctx, profile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (s *ProfileService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.profiles.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProfileNotFound
		}
		return err
	}
	return nil
}

func (s *ProfileService) LookupByEmail(ctx context.Context, email string) (*domain.ProfileLookup, error) {
	if domain.NormalizeEmail(email) == "" {
		return nil, ErrEmailRequired
	}
	return s.profiles.LookupByEmail(ctx, email)
}
