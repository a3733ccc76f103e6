package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/ports"
)

// ProvisionFailure is one account the identity provider did not create.
type ProvisionFailure struct {
	DetailID uuid.UUID
	Email    string
	Err      error
}

// ProvisionError reports a partial or total provisioning failure. Accounts in
// Created exist at the identity provider; SucceededDetailIDs lists the import
// items they were created for.
type ProvisionError struct {
	SuccessfulEmails   []string
	SucceededDetailIDs []uuid.UUID
	Created            []domain.CreatedIdentity
	Failures           []ProvisionFailure
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("identity provisioning failed for %d of %d profiles", len(e.Failures), len(e.Failures)+len(e.Created))
}

func (e *ProvisionError) FailedEmails() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Email
	}
	return out
}

type batchWaiter interface {
	WaitN(ctx context.Context, n int) error
}

type IdentityProvisionerConfig struct {
	BatchSize     int
	BatchInterval time.Duration
}

type IdentityProvisioner struct {
	clients   ports.IdentityClientProvider
	batchSize int
	limiter   batchWaiter
	logger    logrus.FieldLogger
}

func NewIdentityProvisioner(clients ports.IdentityClientProvider, cfg IdentityProvisionerConfig, logger logrus.FieldLogger) *IdentityProvisioner {
	size := cfg.BatchSize
	if size <= 0 {
		size = 10
	}
	limit := rate.Inf
	if cfg.BatchInterval > 0 {
		limit = rate.Every(cfg.BatchInterval / time.Duration(size))
	}
	return &IdentityProvisioner{
		clients:   clients,
		batchSize: size,
		limiter:   rate.NewLimiter(limit, size),
		logger:    logger,
	}
}

type provisionResult struct {
	created *domain.CreatedIdentity
	err     error
}

// CreateUsers creates one identity provider account per profile, a batch at a
// time. Calls within a batch run concurrently and batches are paced by a token
// bucket holding one batch worth of tokens.
func (p *IdentityProvisioner) CreateUsers(ctx context.Context, organisationID string, jobID uuid.UUID, profiles []domain.IdentityProfile) ([]domain.CreatedIdentity, error) {
	if len(profiles) == 0 {
		return []domain.CreatedIdentity{}, nil
	}

	logger := p.logger.WithFields(logrus.Fields{
		"organization_id": organisationID,
		"job_id":          jobID.String(),
	})

	client, err := p.clients.ForOrganization(ctx, organisationID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve identity client")
	}
	token, err := client.AccessToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "identity provider token")
	}

	created := make([]domain.CreatedIdentity, 0, len(profiles))
	succeeded := make([]uuid.UUID, 0, len(profiles))
	var failures []ProvisionFailure

	for start := 0; start < len(profiles); start += p.batchSize {
		end := start + p.batchSize
		if end > len(profiles) {
			end = len(profiles)
		}
		batch := profiles[start:end]

		if err := p.limiter.WaitN(ctx, len(batch)); err != nil {
			for _, profile := range profiles[start:] {
				failures = append(failures, ProvisionFailure{DetailID: profile.DetailID, Email: profile.Row.NormalizedEmail(), Err: err})
			}
			break
		}

		results := make([]provisionResult, len(batch))
		var g errgroup.Group
		for i, profile := range batch {
			i, profile := i, profile
			g.Go(func() error {
				identity, err := client.CreateUser(ctx, token, identityInput(organisationID, jobID, profile.Row))
				results[i] = provisionResult{created: identity, err: err}
				return nil
			})
		}
		_ = g.Wait()

		batchIDs := make([]string, 0, len(batch))
		for i, res := range results {
			email := batch[i].Row.NormalizedEmail()
			if res.err != nil {
				identityProvisionTotal.WithLabelValues("failed").Inc()
				logger.WithError(res.err).WithField("email", email).Warn("identity creation failed")
				failures = append(failures, ProvisionFailure{DetailID: batch[i].DetailID, Email: email, Err: res.err})
				continue
			}
			identityProvisionTotal.WithLabelValues("created").Inc()
			identity := *res.created
			if identity.PrimaryEmail == "" {
				identity.PrimaryEmail = email
			}
			created = append(created, identity)
			succeeded = append(succeeded, batch[i].DetailID)
			batchIDs = append(batchIDs, identity.ID)
		}

		if err := client.AddOrganizationUsers(ctx, token, batchIDs); err != nil {
			logger.WithError(err).WithField("users", len(batchIDs)).Error("add users to organization")
		}
	}

	if len(failures) > 0 {
		emails := make([]string, len(created))
		for i, identity := range created {
			emails[i] = domain.NormalizeEmail(identity.PrimaryEmail)
		}
		return nil, &ProvisionError{SuccessfulEmails: emails, SucceededDetailIDs: succeeded, Created: created, Failures: failures}
	}
	return created, nil
}

func identityInput(organisationID string, jobID uuid.UUID, row domain.ImportProfileRow) ports.CreateIdentityInput {
	name := strings.TrimSpace(strings.TrimSpace(row.FirstName) + " " + strings.TrimSpace(row.LastName))
	return ports.CreateIdentityInput{
		PrimaryEmail:   row.NormalizedEmail(),
		Name:           name,
		GivenName:      strings.TrimSpace(row.FirstName),
		FamilyName:     strings.TrimSpace(row.LastName),
		JobID:          jobID.String(),
		OrganizationID: organisationID,
	}
}
