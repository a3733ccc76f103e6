package ports

import (
	"context"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
)

type CreateIdentityInput struct {
	PrimaryEmail   string
	Name           string
	GivenName      string
	FamilyName     string
	JobID          string
	OrganizationID string
}

// IdentityClient talks to the identity provider's management API on behalf of
// one organisation.
type IdentityClient interface {
	AccessToken(ctx context.Context) (string, error)
	CreateUser(ctx context.Context, token string, input CreateIdentityInput) (*domain.CreatedIdentity, error)
	AddOrganizationUsers(ctx context.Context, token string, userIDs []string) error
}

type IdentityClientProvider interface {
	ForOrganization(ctx context.Context, organizationID string) (IdentityClient, error)
}
