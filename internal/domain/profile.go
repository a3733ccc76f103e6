package domain

import (
	"time"

	"github.com/google/uuid"
)

type Profile struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PublicName        string     `db:"public_name" json:"public_name"`
	Email             string     `db:"email" json:"email"`
	PrimaryUserID     *string    `db:"primary_user_id" json:"primary_user_id,omitempty"`
	SafeLevel         int        `db:"safe_level" json:"safe_level"`
	PreferredLanguage string     `db:"preferred_language" json:"preferred_language"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt         *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ProfileUpdate carries the fields editable through the profile endpoints.
// Nil fields are left untouched.
type ProfileUpdate struct {
	PublicName        *string `json:"public_name,omitempty"`
	PreferredLanguage *string `json:"preferred_language,omitempty"`
	SafeLevel         *int    `json:"safe_level,omitempty"`
}

// ProfileLookup is the result of resolving an email to an existing profile.
type ProfileLookup struct {
	Exists          bool       `json:"exists"`
	ProfileID       *uuid.UUID `json:"profile_id,omitempty"`
	ProfileDetailID *uuid.UUID `json:"profile_detail_id,omitempty"`
}

type ProfileDetails struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	ProfileID      uuid.UUID     `db:"profile_id" json:"profile_id"`
	OrganisationID string        `db:"organisation_id" json:"organisation_id"`
	IsLatest       bool          `db:"is_latest" json:"is_latest"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	Data           []ProfileData `db:"-" json:"data,omitempty"`
}

type ProfileData struct {
	ID               uuid.UUID     `db:"id" json:"id"`
	ProfileDetailsID uuid.UUID     `db:"profile_details_id" json:"profile_details_id"`
	Name             string        `db:"name" json:"name"`
	ValueType        AttributeType `db:"value_type" json:"value_type"`
	Value            string        `db:"value" json:"value"`
}

// ProfileView is a profile together with its latest snapshot for one organisation.
type ProfileView struct {
	Profile    Profile         `json:"profile"`
	Details    *ProfileDetails `json:"details,omitempty"`
	Attributes Attributes      `json:"attributes,omitempty"`
}
