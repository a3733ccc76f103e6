package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/ports"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeTx struct {
	calls int
}

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type memoryProfileRepo struct {
	mu        sync.Mutex
	profiles  map[uuid.UUID]*domain.Profile
	secondary map[string]uuid.UUID
	lookupErr map[string]error
	clock     time.Time
}

func newMemoryProfileRepo() *memoryProfileRepo {
	return &memoryProfileRepo{
		profiles:  make(map[uuid.UUID]*domain.Profile),
		secondary: make(map[string]uuid.UUID),
		lookupErr: make(map[string]error),
		clock:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memoryProfileRepo) seed(email string) *domain.Profile {
	created, _ := m.Create(context.Background(), &domain.Profile{PublicName: email, Email: email})
	return created
}

func (m *memoryProfileRepo) LookupByEmail(ctx context.Context, email string) (*domain.ProfileLookup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = domain.NormalizeEmail(email)
	if err := m.lookupErr[email]; err != nil {
		return nil, err
	}
	var match *domain.Profile
	for _, p := range m.profiles {
		if p.DeletedAt != nil || domain.NormalizeEmail(p.Email) != email {
			continue
		}
		if match == nil || p.CreatedAt.After(match.CreatedAt) {
			match = p
		}
	}
	if match == nil {
		if id, ok := m.secondary[email]; ok {
			match = m.profiles[id]
		}
	}
	if match == nil {
		return &domain.ProfileLookup{Exists: false}, nil
	}
	id := match.ID
	return &domain.ProfileLookup{Exists: true, ProfileID: &id}, nil
}

func (m *memoryProfileRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok || p.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	clone := *p
	return &clone, nil
}

func (m *memoryProfileRepo) FindByPrimaryUserID(ctx context.Context, primaryUserID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.DeletedAt == nil && p.PrimaryUserID != nil && *p.PrimaryUserID == primaryUserID {
			clone := *p
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryProfileRepo) Create(ctx context.Context, profile *domain.Profile) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Second)
	clone := *profile
	clone.ID = uuid.New()
	clone.Email = domain.NormalizeEmail(profile.Email)
	if clone.PreferredLanguage == "" {
		clone.PreferredLanguage = "en"
	}
	clone.CreatedAt = m.clock
	clone.UpdatedAt = m.clock
	m.profiles[clone.ID] = &clone
	out := clone
	return &out, nil
}

func (m *memoryProfileRepo) Update(ctx context.Context, profile *domain.Profile) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.profiles[profile.ID]
	if !ok || existing.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	clone := *profile
	clone.Email = domain.NormalizeEmail(profile.Email)
	m.profiles[profile.ID] = &clone
	out := clone
	return &out, nil
}

func (m *memoryProfileRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok || p.DeletedAt != nil {
		return sql.ErrNoRows
	}
	now := m.clock
	p.DeletedAt = &now
	return nil
}

func (m *memoryProfileRepo) LockForUpdate(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return sql.ErrNoRows
	}
	return nil
}

type memoryDetailsRepo struct {
	mu        sync.Mutex
	snapshots []*domain.ProfileDetails
	data      map[uuid.UUID][]domain.ProfileData
	insertErr error
	demoted   int64
}

func newMemoryDetailsRepo() *memoryDetailsRepo {
	return &memoryDetailsRepo{data: make(map[uuid.UUID][]domain.ProfileData)}
}

func (m *memoryDetailsRepo) FindLatest(ctx context.Context, profileID uuid.UUID, organisationID string) (*domain.ProfileDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.snapshots {
		if d.ProfileID == profileID && d.OrganisationID == organisationID && d.IsLatest {
			clone := *d
			clone.Data = append([]domain.ProfileData(nil), m.data[d.ID]...)
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryDetailsRepo) DemoteLatest(ctx context.Context, profileID uuid.UUID, organisationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.snapshots {
		if d.ProfileID == profileID && d.OrganisationID == organisationID && d.IsLatest {
			d.IsLatest = false
			n++
		}
	}
	m.demoted += n
	return n, nil
}

func (m *memoryDetailsRepo) Insert(ctx context.Context, details *domain.ProfileDetails) (*domain.ProfileDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	clone := *details
	clone.ID = uuid.New()
	m.snapshots = append(m.snapshots, &clone)
	out := clone
	return &out, nil
}

func (m *memoryDetailsRepo) InsertData(ctx context.Context, detailsID uuid.UUID, rows []domain.ProfileData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[detailsID] = append([]domain.ProfileData(nil), rows...)
	return nil
}

func (m *memoryDetailsRepo) snapshotsFor(profileID uuid.UUID, organisationID string) []domain.ProfileDetails {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProfileDetails
	for _, d := range m.snapshots {
		if d.ProfileID == profileID && d.OrganisationID == organisationID {
			out = append(out, *d)
		}
	}
	return out
}

type memoryImportRepo struct {
	mu        sync.Mutex
	imports   map[uuid.UUID]*domain.ProfileImport
	details   map[uuid.UUID][]*domain.ProfileImportDetail
	createErr error
}

func newMemoryImportRepo() *memoryImportRepo {
	return &memoryImportRepo{
		imports: make(map[uuid.UUID]*domain.ProfileImport),
		details: make(map[uuid.UUID][]*domain.ProfileImportDetail),
	}
}

func (m *memoryImportRepo) CreateImport(ctx context.Context, imp *domain.ProfileImport) (*domain.ProfileImport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	clone := *imp
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	m.imports[clone.ID] = &clone
	out := clone
	return &out, nil
}

func (m *memoryImportRepo) InsertDetails(ctx context.Context, importID uuid.UUID, rows []domain.ImportProfileRow) ([]domain.ProfileImportDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ProfileImportDetail, 0, len(rows))
	for i, row := range rows {
		detail := &domain.ProfileImportDetail{
			ID:              uuid.New(),
			ProfileImportID: importID,
			Position:        i + 1,
			Data:            row,
			Status:          domain.ImportStatusPending,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		m.details[importID] = append(m.details[importID], detail)
		out = append(out, *detail)
	}
	return out, nil
}

func (m *memoryImportRepo) FindImportByID(ctx context.Context, id uuid.UUID) (*domain.ProfileImport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *imp
	return &clone, nil
}

func (m *memoryImportRepo) FindImportByJobID(ctx context.Context, jobID uuid.UUID) (*domain.ProfileImport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, imp := range m.imports {
		if imp.JobID == jobID {
			clone := *imp
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryImportRepo) ClaimImport(ctx context.Context, id uuid.UUID, from, to domain.ImportStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok || imp.Status != from {
		return false, nil
	}
	imp.Status = to
	return true, nil
}

func (m *memoryImportRepo) UpdateImportStatus(ctx context.Context, id uuid.UUID, status domain.ImportStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return sql.ErrNoRows
	}
	imp.Status = status
	return nil
}

func (m *memoryImportRepo) ListDetails(ctx context.Context, importID uuid.UUID) ([]domain.ProfileImportDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ProfileImportDetail, 0, len(m.details[importID]))
	for _, d := range m.details[importID] {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memoryImportRepo) FindDetailByEmail(ctx context.Context, importID uuid.UUID, email string) (*domain.ProfileImportDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.details[importID] {
		if d.Data.NormalizedEmail() == domain.NormalizeEmail(email) {
			clone := *d
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryImportRepo) UpdateDetailStatus(ctx context.Context, id uuid.UUID, status domain.ImportStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.details {
		for _, d := range list {
			if d.ID == id {
				d.Status = status
				d.ErrorMessage = nil
				if errMsg != nil {
					msg := *errMsg
					d.ErrorMessage = &msg
				}
				d.UpdatedAt = time.Now()
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

func (m *memoryImportRepo) CountDetailStatuses(ctx context.Context, importID uuid.UUID) (domain.ImportStatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var counts domain.ImportStatusCounts
	for _, d := range m.details[importID] {
		counts.Total++
		switch d.Status {
		case domain.ImportStatusCompleted, domain.ImportStatusSuccess:
			counts.Completed++
		case domain.ImportStatusFailed, domain.ImportStatusCancelled, domain.ImportStatusUnrecoverable:
			counts.Failed++
		case domain.ImportStatusPending:
			counts.Pending++
		}
	}
	return counts, nil
}

func (m *memoryImportRepo) FailStalePending(ctx context.Context, olderThan time.Time, message string) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for importID, list := range m.details {
		imp := m.imports[importID]
		if imp == nil || imp.Status != domain.ImportStatusProcessing {
			continue
		}
		touched := false
		for _, d := range list {
			if d.Status == domain.ImportStatusPending && d.UpdatedAt.Before(olderThan) {
				msg := message
				d.Status = domain.ImportStatusFailed
				d.ErrorMessage = &msg
				touched = true
			}
		}
		if touched {
			ids = append(ids, importID)
		}
	}
	return ids, nil
}

func (m *memoryImportRepo) statuses(importID uuid.UUID) []domain.ImportStatus {
	details, _ := m.ListDetails(context.Background(), importID)
	out := make([]domain.ImportStatus, len(details))
	for i, d := range details {
		out[i] = d.Status
	}
	return out
}

func (m *memoryImportRepo) importStatus(importID uuid.UUID) domain.ImportStatus {
	imp, err := m.FindImportByID(context.Background(), importID)
	if err != nil {
		return ""
	}
	return imp.Status
}

type stubIdentityClient struct {
	mu         sync.Mutex
	fail       map[string]error
	unique     bool
	tokenErr   error
	created    []string
	orgBatches [][]string
	tokenCalls int
}

func (s *stubIdentityClient) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCalls++
	if s.tokenErr != nil {
		return "", s.tokenErr
	}
	return "token", nil
}

func (s *stubIdentityClient) CreateUser(ctx context.Context, token string, input ports.CreateIdentityInput) (*domain.CreatedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[input.PrimaryEmail]; err != nil {
		return nil, err
	}
	if s.unique {
		for _, email := range s.created {
			if email == input.PrimaryEmail {
				return nil, fmt.Errorf("user with email %s already exists", email)
			}
		}
	}
	s.created = append(s.created, input.PrimaryEmail)
	return &domain.CreatedIdentity{ID: "user-" + input.PrimaryEmail, PrimaryEmail: input.PrimaryEmail}, nil
}

func (s *stubIdentityClient) AddOrganizationUsers(ctx context.Context, token string, userIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgBatches = append(s.orgBatches, append([]string(nil), userIDs...))
	return nil
}

type stubIdentityProvider struct {
	client *stubIdentityClient
	err    error
}

func (s *stubIdentityProvider) ForOrganization(ctx context.Context, organizationID string) (ports.IdentityClient, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.client, nil
}

type recordingWaiter struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (w *recordingWaiter) WaitN(ctx context.Context, n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, n)
	return w.err
}

func importRows(n int, prefix string) []domain.ImportProfileRow {
	rows := make([]domain.ImportProfileRow, n)
	for i := range rows {
		rows[i] = domain.ImportProfileRow{
			FirstName: "First",
			LastName:  fmt.Sprintf("Last%d", i),
			Email:     fmt.Sprintf("%s%d@example.com", prefix, i),
		}
	}
	return rows
}

func identityProfiles(rows []domain.ImportProfileRow) []domain.IdentityProfile {
	out := make([]domain.IdentityProfile, len(rows))
	for i, row := range rows {
		out[i] = domain.IdentityProfile{DetailID: uuid.New(), Row: row}
	}
	return out
}
