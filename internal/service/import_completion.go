package service

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/ports"
)

var ErrImportNotFound = errors.New("profile import not found")

type ImportCompletionService struct {
	imports ports.ProfileImportRepository
	logger  logrus.FieldLogger
}

func NewImportCompletionService(imports ports.ProfileImportRepository, logger logrus.FieldLogger) *ImportCompletionService {
	return &ImportCompletionService{imports: imports, logger: logger}
}

// CheckImportCompletion counts the line items of an import and, once none is
// outstanding, stores the final status on the import.
func (s *ImportCompletionService) CheckImportCompletion(ctx context.Context, profileImportID uuid.UUID) (domain.ImportCompletion, error) {
	imp, err := s.imports.FindImportByID(ctx, profileImportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ImportCompletion{}, ErrImportNotFound
		}
		return domain.ImportCompletion{}, err
	}

	counts, err := s.imports.CountDetailStatuses(ctx, profileImportID)
	if err != nil {
		return domain.ImportCompletion{}, errors.Wrap(err, "count import items")
	}

	completion := domain.EvaluateCompletion(counts)
	if !completion.IsComplete || imp.Status == completion.Status {
		return completion, nil
	}

	if err := s.imports.UpdateImportStatus(ctx, profileImportID, completion.Status); err != nil {
		return completion, errors.Wrap(err, "store import status")
	}
	importJobsTotal.WithLabelValues(string(completion.Status)).Inc()
	s.logger.WithFields(logrus.Fields{
		"profile_import_id": profileImportID.String(),
		"status":            completion.Status,
		"total":             completion.Total,
		"failed":            completion.Failed,
	}).Info("profile import finished")
	return completion, nil
}

// Reconcile runs CheckImportCompletion and only logs its failures.
func (s *ImportCompletionService) Reconcile(ctx context.Context, profileImportID uuid.UUID) {
	if _, err := s.CheckImportCompletion(ctx, profileImportID); err != nil {
		s.logger.WithError(err).WithField("profile_import_id", profileImportID.String()).Error("reconcile import completion")
	}
}
