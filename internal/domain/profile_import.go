package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ImportStatus string

const (
	ImportStatusPending       ImportStatus = "pending"
	ImportStatusProcessing    ImportStatus = "processing"
	ImportStatusCompleted     ImportStatus = "completed"
	ImportStatusFailed        ImportStatus = "failed"
	ImportStatusCancelled     ImportStatus = "cancelled"
	ImportStatusUnrecoverable ImportStatus = "unrecoverable"
	ImportStatusSuccess       ImportStatus = "success"
)

type ImportSource string

const (
	ImportSourceCSV  ImportSource = "csv"
	ImportSourceJSON ImportSource = "json"
)

type ProfileImport struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	JobID          uuid.UUID       `db:"job_id" json:"job_id"`
	OrganisationID string          `db:"organisation_id" json:"organisation_id"`
	Status         ImportStatus    `db:"status" json:"status"`
	Source         ImportSource    `db:"source" json:"source"`
	Metadata       *ImportMetadata `db:"metadata" json:"metadata,omitempty"`
	JobToken       string          `db:"job_token" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// ImportMetadata is stored verbatim on the import row.
type ImportMetadata struct {
	Filename  string `json:"filename,omitempty"`
	Mimetype  string `json:"mimetype,omitempty"`
	ObjectKey string `json:"object_key,omitempty"`
}

func (m ImportMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *ImportMetadata) Scan(value any) error {
	if value == nil {
		return nil
	}
	bytes, err := asBytes(value)
	if err != nil {
		return fmt.Errorf("import metadata: %w", err)
	}
	return json.Unmarshal(bytes, m)
}

type ProfileImportDetail struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	ProfileImportID uuid.UUID        `db:"profile_import_id" json:"profile_import_id"`
	Position        int              `db:"position" json:"position"`
	Data            ImportProfileRow `db:"data" json:"data"`
	Status          ImportStatus     `db:"status" json:"status"`
	ErrorMessage    *string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// ImportProfileRow is one raw input profile as submitted by the client.
type ImportProfileRow struct {
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	FirstName   string `json:"first_name,omitempty" validate:"omitempty,max=255"`
	LastName    string `json:"last_name,omitempty" validate:"omitempty,max=255"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,max=64"`
	DateOfBirth string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (r ImportProfileRow) NormalizedEmail() string {
	return NormalizeEmail(r.Email)
}

// PublicName is the display name used when a profile is first created.
func (r ImportProfileRow) PublicName() string {
	name := strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
	if name == "" {
		return r.NormalizedEmail()
	}
	return name
}

// Attributes maps the row onto typed profile attributes. Unparseable dates
// are dropped; request validation rejects them before they get here.
func (r ImportProfileRow) Attributes() Attributes {
	attrs := Attributes{
		"address":    StringAttr(strings.TrimSpace(r.Address)),
		"city":       StringAttr(strings.TrimSpace(r.City)),
		"first_name": StringAttr(strings.TrimSpace(r.FirstName)),
		"last_name":  StringAttr(strings.TrimSpace(r.LastName)),
		"email":      StringAttr(r.NormalizedEmail()),
		"phone":      StringAttr(strings.TrimSpace(r.Phone)),
	}
	if strings.TrimSpace(r.DateOfBirth) != "" {
		if dob, err := ParseDate(r.DateOfBirth); err == nil {
			attrs["date_of_birth"] = dob
		}
	}
	return attrs.Normalize()
}

func (r ImportProfileRow) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *ImportProfileRow) Scan(value any) error {
	if value == nil {
		return errors.New("import row data cannot be null")
	}
	bytes, err := asBytes(value)
	if err != nil {
		return fmt.Errorf("import row data: %w", err)
	}
	return json.Unmarshal(bytes, r)
}

// ImportStatusCounts aggregates line item statuses for one import.
type ImportStatusCounts struct {
	Total     int `db:"total" json:"total"`
	Completed int `db:"completed" json:"completed"`
	Failed    int `db:"failed" json:"failed"`
	Pending   int `db:"pending" json:"pending"`
}

// ImportCompletion is the reconciler verdict for one import.
type ImportCompletion struct {
	ImportStatusCounts
	IsComplete bool         `json:"is_complete"`
	Status     ImportStatus `json:"status"`
}

// EvaluateCompletion applies the completion rule shared by every caller:
// complete when nothing is pending and every item is completed or failed;
// failed only when every item failed. An import without items is complete.
func EvaluateCompletion(counts ImportStatusCounts) ImportCompletion {
	result := ImportCompletion{ImportStatusCounts: counts}
	if counts.Total == 0 {
		result.IsComplete = true
		result.Status = ImportStatusCompleted
		return result
	}
	result.IsComplete = counts.Pending == 0 && counts.Total == counts.Completed+counts.Failed
	if counts.Failed == counts.Total {
		result.Status = ImportStatusFailed
	} else {
		result.Status = ImportStatusCompleted
	}
	return result
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func asBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("expected []byte, got %T", value)
	}
}
