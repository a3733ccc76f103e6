package service

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/ports"
)

// WebhookService applies identity provider user events to profiles and to the
// import that created the account.
type WebhookService struct {
	tx         ports.Transactor
	profiles   ports.ProfileRepository
	imports    ports.ProfileImportRepository
	details    detailsWriter
	completion completionReconciler
	logger     logrus.FieldLogger
}

func NewWebhookService(tx ports.Transactor, profiles ports.ProfileRepository, imports ports.ProfileImportRepository, details detailsWriter, completion completionReconciler, logger logrus.FieldLogger) *WebhookService {
	return &WebhookService{
		tx:         tx,
		profiles:   profiles,
		imports:    imports,
		details:    details,
		completion: completion,
		logger:     logger,
	}
}

// HandleEvent ignores events other than user creation and update.
func (s *WebhookService) HandleEvent(ctx context.Context, event domain.WebhookEvent) error {
	if !event.IsUserEvent() || event.Data == nil {
		webhookEventsTotal.WithLabelValues(event.Event, "ignored").Inc()
		return nil
	}
	err := s.HandleUserEvent(ctx, event.Data.ToIdentityUser())
	result := "ok"
	if err != nil {
		result = "error"
	}
	webhookEventsTotal.WithLabelValues(event.Event, result).Inc()
	return err
}

func (s *WebhookService) HandleUserEvent(ctx context.Context, user domain.IdentityUser) error {
	logger := s.logger.WithFields(logrus.Fields{
		"primary_user_id": user.PrimaryUserID,
		"email":           user.Email,
		"job_id":          user.JobID,
	})

	profile, upsertErr := s.upsertProfile(ctx, user)

	if user.JobID == "" {
		if upsertErr != nil {
			return upsertErr
		}
		if user.OrganizationID != "" {
			if _, _, err := s.details.CreateUpdateProfileDetails(ctx, user.OrganizationID, profile.ID, identityAttributes(user)); err != nil {
				return err
			}
		}
		return nil
	}

	jobID, err := uuid.Parse(user.JobID)
	if err != nil {
		logger.Warn("webhook carries malformed job id")
		return upsertErr
	}
	imp, err := s.imports.FindImportByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.Warn("webhook references unknown import")
			return upsertErr
		}
		return errors.Wrap(err, "find import by job id")
	}
	logger = logger.WithField("profile_import_id", imp.ID.String())

	detail, err := s.imports.FindDetailByEmail(ctx, imp.ID, user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.Warn("webhook email not part of import")
			s.completion.Reconcile(ctx, imp.ID)
			return upsertErr
		}
		return errors.Wrap(err, "find import item")
	}

	if upsertErr != nil {
		s.failDetail(ctx, detail.ID, upsertErr, logger)
		s.completion.Reconcile(ctx, imp.ID)
		return upsertErr
	}

	organisationID := imp.OrganisationID
	if organisationID == "" {
		organisationID = user.OrganizationID
	}
	attrs := detail.Data.Attributes().Merge(identityAttributes(user))

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, _, err := s.details.CreateUpdateProfileDetails(ctx, organisationID, profile.ID, attrs); err != nil {
			return err
		}
		return s.imports.UpdateDetailStatus(ctx, detail.ID, domain.ImportStatusCompleted, nil)
	})
	if err != nil {
		s.failDetail(ctx, detail.ID, err, logger)
		s.completion.Reconcile(ctx, imp.ID)
		return err
	}

	importItemsTotal.WithLabelValues(string(domain.ImportStatusCompleted)).Inc()
	logger.Info("import item confirmed by identity provider")
	s.completion.Reconcile(ctx, imp.ID)
	return nil
}

// upsertProfile resolves the profile by identity provider user id, then by
// email, and creates it when neither matches.
func (s *WebhookService) upsertProfile(ctx context.Context, user domain.IdentityUser) (*domain.Profile, error) {
	var result *domain.Profile
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		profile, err := s.profiles.FindByPrimaryUserID(ctx, user.PrimaryUserID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return errors.Wrap(err, "find profile by user id")
		}

		if profile == nil {
			lookup, err := s.profiles.LookupByEmail(ctx, user.Email)
			if err != nil {
				return errors.Wrap(err, "lookup profile")
			}
			if lookup.Exists && lookup.ProfileID != nil {
				profile, err = s.profiles.FindByID(ctx, *lookup.ProfileID)
				if err != nil {
					return errors.Wrap(err, "load profile")
				}
			}
		}

		if profile == nil {
			primaryUserID := user.PrimaryUserID
			result, err = s.profiles.Create(ctx, &domain.Profile{
				PublicName:    user.PublicName(),
				Email:         user.Email,
				PrimaryUserID: &primaryUserID,
			})
			return errors.Wrap(err, "create profile")
		}

		if !profileNeedsUpdate(profile, user) {
			result = profile
			return nil
		}
		if profile.PrimaryUserID == nil || *profile.PrimaryUserID == "" {
			primaryUserID := user.PrimaryUserID
			profile.PrimaryUserID = &primaryUserID
		}
		if strings.TrimSpace(profile.PublicName) == "" {
			profile.PublicName = user.PublicName()
		}
		if profile.Email == "" {
			profile.Email = user.Email
		}
		result, err = s.profiles.Update(ctx, profile)
		return errors.Wrap(err, "update profile")
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func profileNeedsUpdate(profile *domain.Profile, user domain.IdentityUser) bool {
	return profile.PrimaryUserID == nil || *profile.PrimaryUserID == "" ||
		strings.TrimSpace(profile.PublicName) == "" ||
		(profile.Email == "" && user.Email != "")
}

func (s *WebhookService) failDetail(ctx context.Context, detailID uuid.UUID, cause error, logger logrus.FieldLogger) {
	message := cause.Error()
	if err := s.imports.UpdateDetailStatus(ctx, detailID, domain.ImportStatusFailed, &message); err != nil {
		logger.WithError(err).Error("mark import item failed")
		return
	}
	importItemsTotal.WithLabelValues(string(domain.ImportStatusFailed)).Inc()
	logger.WithError(cause).Warn("import item failed after identity confirmation")
}

func identityAttributes(user domain.IdentityUser) domain.Attributes {
	return domain.Attributes{
		"email":      domain.StringAttr(user.Email),
		"first_name": domain.StringAttr(user.FirstName),
		"last_name":  domain.StringAttr(user.LastName),
	}.Normalize()
}
