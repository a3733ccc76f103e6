package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/ports"
	"github.com/njprem/Profile_APP_BackEnd/internal/util"
)

var (
	ErrImportEmpty            = errors.New("import contains no profiles")
	ErrImportEmptyFile        = errors.New("csv file is empty")
	ErrImportTooLarge         = errors.New("csv file exceeds maximum size")
	ErrImportInvalidHeaders   = errors.New("csv headers missing required columns")
	ErrImportRowLimitExceeded = errors.New("import exceeds maximum allowed rows")
	ErrInvalidImportRow       = errors.New("invalid import row")
	ErrOrganizationRequired   = errors.New("organization id is required")
	ErrInvalidJobToken        = errors.New("invalid job token")
	ErrImportAlreadyStarted   = errors.New("profile import already started")
)

// ImportRowError points at the first invalid row of a submission.
type ImportRowError struct {
	Position int
	Err      error
}

func (e *ImportRowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Position, e.Err)
}

func (e *ImportRowError) Unwrap() []error {
	return []error{ErrInvalidImportRow, e.Err}
}

type profileLookup interface {
	LookupByEmail(ctx context.Context, email string) (*domain.ProfileLookup, error)
}

type detailsWriter interface {
	CreateUpdateProfileDetails(ctx context.Context, organisationID string, profileID uuid.UUID, attrs domain.Attributes) (*domain.ProfileDetails, bool, error)
}

type identityProvisioner interface {
	CreateUsers(ctx context.Context, organisationID string, jobID uuid.UUID, profiles []domain.IdentityProfile) ([]domain.CreatedIdentity, error)
}

type importReconciler interface {
	CheckImportCompletion(ctx context.Context, profileImportID uuid.UUID) (domain.ImportCompletion, error)
	Reconcile(ctx context.Context, profileImportID uuid.UUID)
}

type jobTokenIssuer interface {
	GenerateJobToken(profileImportID uuid.UUID) (string, time.Time, error)
	ParseJobToken(token string) (*util.JobClaims, error)
}

type importQueue interface {
	Enqueue(ctx context.Context, profileImportID uuid.UUID) error
}

type ProfileImportServiceConfig struct {
	Bucket       string
	MaxRows      int
	MaxFileBytes int64
}

// ProfileImportReport is an import with its line items and progress.
type ProfileImportReport struct {
	Import     *domain.ProfileImport        `json:"import"`
	Details    []domain.ProfileImportDetail `json:"details"`
	Completion domain.ImportCompletion      `json:"completion"`
}

type ProfileImportService struct {
	tx          ports.Transactor
	imports     ports.ProfileImportRepository
	profiles    profileLookup
	details     detailsWriter
	provisioner identityProvisioner
	completion  importReconciler
	tokens      jobTokenIssuer
	storage     ports.ObjectStorage
	queue       importQueue
	validate    *validator.Validate
	logger      logrus.FieldLogger

	bucket       string
	maxRows      int
	maxFileBytes int64
}

func NewProfileImportService(
	tx ports.Transactor,
	imports ports.ProfileImportRepository,
	profiles profileLookup,
	details detailsWriter,
	provisioner identityProvisioner,
	completion importReconciler,
	tokens jobTokenIssuer,
	storage ports.ObjectStorage,
	cfg ProfileImportServiceConfig,
	logger logrus.FieldLogger,
) *ProfileImportService {
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 5000
	}
	maxFile := cfg.MaxFileBytes
	if maxFile <= 0 {
		maxFile = 5 * 1024 * 1024
	}

	return &ProfileImportService{
		tx:           tx,
		imports:      imports,
		profiles:     profiles,
		details:      details,
		provisioner:  provisioner,
		completion:   completion,
		tokens:       tokens,
		storage:      storage,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       logger,
		bucket:       cfg.Bucket,
		maxRows:      maxRows,
		maxFileBytes: maxFile,
	}
}

// UseQueue makes submissions and job callbacks run through q instead of the
// caller's goroutine.
func (s *ProfileImportService) UseQueue(q importQueue) {
	s.queue = q
}

// Submit records the job and one pending line item per row, then schedules
// execution. Nothing is written when the submission is rejected.
func (s *ProfileImportService) Submit(ctx context.Context, organisationID string, rows []domain.ImportProfileRow) (*domain.ProfileImport, error) {
	if err := s.checkRows(organisationID, rows); err != nil {
		return nil, err
	}
	return s.submit(ctx, organisationID, uuid.New(), domain.ImportSourceJSON, nil, rows)
}

// SubmitCSV parses an uploaded CSV file, archives it and submits its rows.
func (s *ProfileImportService) SubmitCSV(ctx context.Context, organisationID, filename, mimetype string, contents []byte) (*domain.ProfileImport, error) {
	if len(contents) == 0 {
		return nil, ErrImportEmptyFile
	}
	if s.maxFileBytes > 0 && int64(len(contents)) > s.maxFileBytes {
		return nil, ErrImportTooLarge
	}

	header, records, err := parseCSV(contents)
	if err != nil {
		return nil, err
	}
	if missing := missingColumns(header, []string{"email"}); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrImportInvalidHeaders, strings.Join(missing, ", "))
	}

	rows := make([]domain.ImportProfileRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, rowFromRecord(rowToMap(header, record)))
	}
	if err := s.checkRows(organisationID, rows); err != nil {
		return nil, err
	}

	jobID := uuid.New()
	if mimetype == "" {
		mimetype = "text/csv"
	}
	metadata := &domain.ImportMetadata{Filename: filepath.Base(strings.TrimSpace(filename)), Mimetype: mimetype}
	if s.storage == nil || s.bucket == "" {
		return s.submit(ctx, organisationID, jobID, domain.ImportSourceCSV, metadata, rows)
	}

	objectName := buildObjectName(jobID, filename)
	key, err := s.storage.Upload(ctx, s.bucket, objectName, mimetype, bytes.NewReader(contents), int64(len(contents)))
	if err != nil {
		return nil, errors.Wrap(err, "archive import file")
	}
	metadata.ObjectKey = key

	imp, err := s.submit(ctx, organisationID, jobID, domain.ImportSourceCSV, metadata, rows)
	if err != nil {
		if rmErr := s.storage.Remove(ctx, s.bucket, objectName); rmErr != nil {
			s.logger.WithError(rmErr).WithField("object", objectName).Warn("remove archived import file")
		}
		return nil, err
	}
	return imp, nil
}

func (s *ProfileImportService) checkRows(organisationID string, rows []domain.ImportProfileRow) error {
	if strings.TrimSpace(organisationID) == "" {
		return ErrOrganizationRequired
	}
	if len(rows) == 0 {
		return ErrImportEmpty
	}
	if s.maxRows > 0 && len(rows) > s.maxRows {
		return ErrImportRowLimitExceeded
	}
	for i, row := range rows {
		if err := s.validate.Struct(row); err != nil {
			return &ImportRowError{Position: i + 1, Err: err}
		}
	}
	return nil
}

func (s *ProfileImportService) submit(ctx context.Context, organisationID string, jobID uuid.UUID, source domain.ImportSource, metadata *domain.ImportMetadata, rows []domain.ImportProfileRow) (*domain.ProfileImport, error) {
	importID := uuid.New()
	token, _, err := s.tokens.GenerateJobToken(importID)
	if err != nil {
		return nil, errors.Wrap(err, "sign job token")
	}

	var created *domain.ProfileImport
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		imp, err := s.imports.CreateImport(ctx, &domain.ProfileImport{
			ID:             importID,
			JobID:          jobID,
			OrganisationID: strings.TrimSpace(organisationID),
			Status:         domain.ImportStatusPending,
			Source:         source,
			Metadata:       metadata,
			JobToken:       token,
		})
		if err != nil {
			return errors.Wrap(err, "create import")
		}
		if _, err := s.imports.InsertDetails(ctx, imp.ID, rows); err != nil {
			return errors.Wrap(err, "create import items")
		}
		created = imp
		return nil
	})
	if err != nil {
		return nil, err
	}

	importJobsTotal.WithLabelValues(string(domain.ImportStatusPending)).Inc()
	logger := s.logger.WithFields(logrus.Fields{
		"profile_import_id": created.ID.String(),
		"organization_id":   created.OrganisationID,
		"rows":              len(rows),
		"source":            source,
	})
	logger.Info("profile import submitted")

	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, created.ID); err != nil {
			logger.WithError(err).Warn("profile import not queued; waiting for job callback")
		}
	}
	return created, nil
}

// ExecuteWithToken is the job execution callback. The token must be the one
// issued for this import.
func (s *ProfileImportService) ExecuteWithToken(ctx context.Context, profileImportID uuid.UUID, token string) error {
	imp, err := s.findImport(ctx, profileImportID)
	if err != nil {
		return err
	}
	if !util.SecureCompare(strings.TrimSpace(token), imp.JobToken) {
		return ErrInvalidJobToken
	}
	claims, err := s.tokens.ParseJobToken(token)
	if err != nil || claims.ProfileImportID != imp.ID {
		return ErrInvalidJobToken
	}
	if imp.Status != domain.ImportStatusPending {
		return ErrImportAlreadyStarted
	}
	if s.queue != nil {
		return s.queue.Enqueue(ctx, imp.ID)
	}
	return s.Execute(ctx, imp.ID)
}

// Execute runs a pending import. Line items are processed in input order,
// each in its own transaction; a failing item is recorded and skipped.
func (s *ProfileImportService) Execute(ctx context.Context, profileImportID uuid.UUID) error {
	imp, err := s.findImport(ctx, profileImportID)
	if err != nil {
		return err
	}
	claimed, err := s.imports.ClaimImport(ctx, imp.ID, domain.ImportStatusPending, domain.ImportStatusProcessing)
	if err != nil {
		return errors.Wrap(err, "claim import")
	}
	if !claimed {
		return ErrImportAlreadyStarted
	}
	importJobsTotal.WithLabelValues(string(domain.ImportStatusProcessing)).Inc()

	logger := s.logger.WithFields(logrus.Fields{
		"profile_import_id": imp.ID.String(),
		"organization_id":   imp.OrganisationID,
	})

	details, err := s.imports.ListDetails(ctx, imp.ID)
	if err != nil {
		s.failImport(ctx, imp.ID, logger)
		return errors.Wrap(err, "list import items")
	}

	toCreate := make([]domain.IdentityProfile, 0)
	queued := make(map[string]int)
	for _, detail := range details {
		email := detail.Data.NormalizedEmail()
		if position, ok := queued[email]; ok {
			logger.WithField("email", email).Warn("duplicate email in import")
			s.markDetail(ctx, detail.ID, domain.ImportStatusFailed, duplicateEmailError(position), logger)
			continue
		}
		needsIdentity, err := s.processDetail(ctx, imp, detail)
		if err != nil {
			logger.WithError(err).WithField("email", email).Warn("import item failed")
			s.markDetail(ctx, detail.ID, domain.ImportStatusFailed, err, logger)
			continue
		}
		if needsIdentity {
			queued[email] = detail.Position
			toCreate = append(toCreate, domain.IdentityProfile{DetailID: detail.ID, Row: detail.Data})
		}
	}

	if len(toCreate) > 0 {
		s.provision(ctx, imp, toCreate, logger)
	}

	s.completion.Reconcile(ctx, imp.ID)
	return nil
}

func (s *ProfileImportService) processDetail(ctx context.Context, imp *domain.ProfileImport, detail domain.ProfileImportDetail) (bool, error) {
	if err := s.imports.UpdateDetailStatus(ctx, detail.ID, domain.ImportStatusProcessing, nil); err != nil {
		return false, errors.Wrap(err, "mark import item processing")
	}

	needsIdentity := false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		lookup, err := s.profiles.LookupByEmail(ctx, detail.Data.Email)
		if err != nil {
			return errors.Wrap(err, "lookup profile")
		}
		if !lookup.Exists || lookup.ProfileID == nil {
			needsIdentity = true
			return s.imports.UpdateDetailStatus(ctx, detail.ID, domain.ImportStatusPending, nil)
		}
		if _, _, err := s.details.CreateUpdateProfileDetails(ctx, imp.OrganisationID, *lookup.ProfileID, detail.Data.Attributes()); err != nil {
			return err
		}
		return s.imports.UpdateDetailStatus(ctx, detail.ID, domain.ImportStatusCompleted, nil)
	})
	if err != nil {
		return false, err
	}
	if needsIdentity {
		importItemsTotal.WithLabelValues(string(domain.ImportStatusPending)).Inc()
	} else {
		importItemsTotal.WithLabelValues(string(domain.ImportStatusCompleted)).Inc()
	}
	return needsIdentity, nil
}

// provision creates identity provider accounts for items without a profile.
// Items whose account was created wait for the webhook to fill in the profile.
func (s *ProfileImportService) provision(ctx context.Context, imp *domain.ProfileImport, profiles []domain.IdentityProfile, logger logrus.FieldLogger) {
	created, err := s.provisioner.CreateUsers(ctx, imp.OrganisationID, imp.JobID, profiles)
	if err == nil {
		logger.WithField("accounts", len(created)).Info("identity accounts created; awaiting confirmation")
		return
	}

	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) {
		logger.WithError(err).Error("identity provisioning failed")
		for _, profile := range profiles {
			s.markDetail(ctx, profile.DetailID, domain.ImportStatusFailed, err, logger)
		}
		return
	}

	logger.WithField("failed", len(provisionErr.Failures)).Warn("identity provisioning partially failed")
	for _, failure := range provisionErr.Failures {
		s.markDetail(ctx, failure.DetailID, domain.ImportStatusFailed, failure.Err, logger)
	}
	for _, detailID := range provisionErr.SucceededDetailIDs {
		s.markDetail(ctx, detailID, domain.ImportStatusCompleted, nil, logger)
	}
}

func duplicateEmailError(position int) error {
	return errors.Errorf("duplicate email; already imported at position %d", position)
}

func (s *ProfileImportService) markDetail(ctx context.Context, detailID uuid.UUID, status domain.ImportStatus, cause error, logger logrus.FieldLogger) {
	var message *string
	if cause != nil {
		msg := cause.Error()
		message = &msg
	}
	if err := s.imports.UpdateDetailStatus(ctx, detailID, status, message); err != nil {
		logger.WithError(err).WithField("detail_id", detailID.String()).Error("update import item status")
		return
	}
	importItemsTotal.WithLabelValues(string(status)).Inc()
}

func (s *ProfileImportService) failImport(ctx context.Context, id uuid.UUID, logger logrus.FieldLogger) {
	if err := s.imports.UpdateImportStatus(ctx, id, domain.ImportStatusFailed); err != nil {
		logger.WithError(err).Error("mark import failed")
		return
	}
	importJobsTotal.WithLabelValues(string(domain.ImportStatusFailed)).Inc()
}

func (s *ProfileImportService) GetImport(ctx context.Context, profileImportID uuid.UUID) (*ProfileImportReport, error) {
	imp, err := s.findImport(ctx, profileImportID)
	if err != nil {
		return nil, err
	}
	details, err := s.imports.ListDetails(ctx, imp.ID)
	if err != nil {
		return nil, err
	}
	counts, err := s.imports.CountDetailStatuses(ctx, imp.ID)
	if err != nil {
		return nil, err
	}
	return &ProfileImportReport{
		Import:     imp,
		Details:    details,
		Completion: domain.EvaluateCompletion(counts),
	}, nil
}

// FailedRowsCSV renders the failed line items of an import with their errors.
func (s *ProfileImportService) FailedRowsCSV(ctx context.Context, profileImportID uuid.UUID) ([]byte, error) {
	imp, err := s.findImport(ctx, profileImportID)
	if err != nil {
		return nil, err
	}
	details, err := s.imports.ListDetails(ctx, imp.ID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.Write([]string{"position", "email", "first_name", "last_name", "phone", "address", "city", "date_of_birth", "status", "error"})
	for _, detail := range details {
		if detail.Status != domain.ImportStatusFailed && detail.Status != domain.ImportStatusUnrecoverable && detail.Status != domain.ImportStatusCancelled {
			continue
		}
		message := ""
		if detail.ErrorMessage != nil {
			message = *detail.ErrorMessage
		}
		row := detail.Data
		_ = writer.Write([]string{
			strconv.Itoa(detail.Position),
			row.Email,
			row.FirstName,
			row.LastName,
			row.Phone,
			row.Address,
			row.City,
			row.DateOfBirth,
			string(detail.Status),
			message,
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *ProfileImportService) findImport(ctx context.Context, id uuid.UUID) (*domain.ProfileImport, error) {
	imp, err := s.imports.FindImportByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrImportNotFound
		}
		return nil, err
	}
	return imp, nil
}

func parseCSV(contents []byte) ([]string, [][]string, error) {
	reader := csv.NewReader(bytes.NewReader(contents))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, ErrImportEmptyFile
		}
		return nil, nil, err
	}

	normHeader := make([]string, len(header))
	for i, h := range header {
		normHeader[i] = normalizeHeader(h)
	}

	rows := make([][]string, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if isRecordEmpty(record) {
			continue
		}
		rows = append(rows, record)
	}
	return normHeader, rows, nil
}

func missingColumns(header []string, required []string) []string {
	set := make(map[string]struct{}, len(header))
	for _, h := range header {
		set[h] = struct{}{}
	}
	var missing []string
	for _, req := range required {
		if _, ok := set[req]; !ok {
			missing = append(missing, req)
		}
	}
	return missing
}

func rowToMap(header []string, record []string) map[string]string {
	out := make(map[string]string, len(header))
	for idx, key := range header {
		val := ""
		if idx < len(record) {
			val = strings.TrimSpace(record[idx])
		}
		out[key] = val
	}
	return out
}

func rowFromRecord(values map[string]string) domain.ImportProfileRow {
	return domain.ImportProfileRow{
		Address:     values["address"],
		City:        values["city"],
		FirstName:   values["first_name"],
		LastName:    values["last_name"],
		Email:       values["email"],
		Phone:       values["phone"],
		DateOfBirth: values["date_of_birth"],
	}
}

func isRecordEmpty(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func buildObjectName(jobID uuid.UUID, filename string) string {
	name := strings.TrimSpace(filename)
	if name == "" {
		name = "upload.csv"
	}
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	return fmt.Sprintf("profiles/imports/%s/%s", jobID.String(), name)
}

// normalizeHeader folds "First Name" and "first-name" into first_name.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}
