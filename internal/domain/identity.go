package domain

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

const (
	WebhookEventUserCreated     = "User.Created"
	WebhookEventUserDataUpdated = "User.Data.Updated"

	myGovIDIdentity = "MyGovID"
)

// IdentityProfile is a profile that needs an identity provider account.
type IdentityProfile struct {
	DetailID uuid.UUID
	Row      ImportProfileRow
}

// CreatedIdentity is an account returned by the identity provider.
type CreatedIdentity struct {
	ID           string `json:"id"`
	PrimaryEmail string `json:"primaryEmail"`
}

// WebhookEvent is the identity provider's event envelope.
type WebhookEvent struct {
	Event     string          `json:"event" validate:"required"`
	CreatedAt string          `json:"createdAt,omitempty"`
	Data      *WebhookUser    `json:"data" validate:"required"`
	Raw       json.RawMessage `json:"-"`
}

type WebhookUser struct {
	ID           string                     `json:"id" validate:"required"`
	PrimaryEmail string                     `json:"primaryEmail" validate:"required,email"`
	Name         string                     `json:"name,omitempty"`
	CustomData   WebhookCustomData          `json:"customData"`
	Identities   map[string]WebhookIdentity `json:"identities,omitempty"`
}

type WebhookCustomData struct {
	JobID          string `json:"jobId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
}

type WebhookIdentity struct {
	UserID  string         `json:"userId"`
	Details map[string]any `json:"details,omitempty"`
}

// IsUserEvent reports whether the event carries a created or updated user.
func (e WebhookEvent) IsUserEvent() bool {
	return e.Event == WebhookEventUserCreated || e.Event == WebhookEventUserDataUpdated
}

// IdentityUser is the webhook payload mapped onto profile fields.
type IdentityUser struct {
	PrimaryUserID  string
	Email          string
	JobID          string
	OrganizationID string
	FirstName      string
	LastName       string
}

func (u IdentityUser) PublicName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// ToIdentityUser maps the payload. When a MyGovID identity is linked, names
// come from its raw federated claims.
func (u WebhookUser) ToIdentityUser() IdentityUser {
	out := IdentityUser{
		PrimaryUserID:  u.ID,
		Email:          NormalizeEmail(u.PrimaryEmail),
		JobID:          strings.TrimSpace(u.CustomData.JobID),
		OrganizationID: strings.TrimSpace(u.CustomData.OrganizationID),
	}
	if identity, ok := u.Identities[myGovIDIdentity]; ok {
		raw, _ := identity.Details["rawData"].(map[string]any)
		out.FirstName = firstClaim(raw, "firstName", "given_name")
		out.LastName = firstClaim(raw, "lastName", "family_name")
		return out
	}
	if parts := strings.Fields(u.Name); len(parts) > 0 {
		out.FirstName = parts[0]
		out.LastName = strings.Join(parts[1:], " ")
	}
	return out
}

func firstClaim(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := claims[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
