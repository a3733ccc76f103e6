package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/service"
	"github.com/njprem/Profile_APP_BackEnd/internal/util"
)

const testSigningKey = "whsec-test"

func testRouter() *echo.Echo {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRouter([]string{"*"}, logger)
}

type stubWebhookProcessor struct {
	events []domain.WebhookEvent
	err    error
}

func (s *stubWebhookProcessor) HandleEvent(ctx context.Context, event domain.WebhookEvent) error {
	s.events = append(s.events, event)
	return s.err
}

type stubImporter struct {
	submitted [][]domain.ImportProfileRow
	org       string
	report    *service.ProfileImportReport
	err       error
}

func (s *stubImporter) Submit(ctx context.Context, organisationID string, rows []domain.ImportProfileRow) (*domain.ProfileImport, error) {
	s.submitted = append(s.submitted, rows)
	s.org = organisationID
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ProfileImport{ID: uuid.New(), OrganisationID: organisationID, Status: domain.ImportStatusPending}, nil
}

func (s *stubImporter) SubmitCSV(ctx context.Context, organisationID, filename, mimetype string, contents []byte) (*domain.ProfileImport, error) {
	return nil, errors.New("not used")
}

func (s *stubImporter) GetImport(ctx context.Context, id uuid.UUID) (*service.ProfileImportReport, error) {
	if s.report == nil {
		return nil, service.ErrImportNotFound
	}
	return s.report, nil
}

func (s *stubImporter) FailedRowsCSV(ctx context.Context, id uuid.UUID) ([]byte, error) {
	return []byte("position,email\n2,b@example.com\n"), nil
}

type stubJobRunner struct {
	err   error
	calls int
}

func (s *stubJobRunner) ExecuteWithToken(ctx context.Context, id uuid.UUID, token string) error {
	s.calls++
	return s.err
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func webhookRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/user-login-wh", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(webhookSignatureHeader, signature)
	}
	return req
}

const userCreatedBody = `{"event":"User.Created","data":{"id":"u1","primaryEmail":"ada@example.com","customData":{"jobId":"j1"}}}`

func TestWebhookRejectsBadSignature(t *testing.T) {
	e := testRouter()
	processor := &stubWebhookProcessor{}
	RegisterWebhooks(e, testSigningKey, processor)

	cases := map[string]string{
		"missing":   "",
		"not hex":   "zzzz",
		"wrong key": util.SignHMACSHA256("other-key", []byte(userCreatedBody)),
		"tampered":  util.SignHMACSHA256(testSigningKey, []byte(userCreatedBody+" ")),
	}
	for name, signature := range cases {
		rec := serve(e, webhookRequest(userCreatedBody, signature))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
	if len(processor.events) != 0 {
		t.Fatalf("handler must not run for unsigned requests, got %d events", len(processor.events))
	}
}

func TestWebhookAcceptsSignedEvent(t *testing.T) {
	e := testRouter()
	processor := &stubWebhookProcessor{}
	RegisterWebhooks(e, testSigningKey, processor)

	rec := serve(e, webhookRequest(userCreatedBody, util.SignHMACSHA256(testSigningKey, []byte(userCreatedBody))))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(processor.events) != 1 {
		t.Fatalf("expected one event, got %d", len(processor.events))
	}
	event := processor.events[0]
	if event.Data.ID != "u1" || event.Data.CustomData.JobID != "j1" || string(event.Raw) != userCreatedBody {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestWebhookPayloadErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		calls  int
	}{
		{"not json", `{"event":`, nil, http.StatusUnprocessableEntity, 0},
		{"missing email", `{"event":"User.Created","data":{"id":"u1"}}`, nil, http.StatusUnprocessableEntity, 0},
		{"other event", `{"event":"User.Deleted","data":{"id":"u1","primaryEmail":"a@example.com"}}`, nil, http.StatusOK, 0},
		{"service failure", userCreatedBody, errors.New("db down"), http.StatusInternalServerError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testRouter()
			processor := &stubWebhookProcessor{err: tt.err}
			RegisterWebhooks(e, testSigningKey, processor)

			rec := serve(e, webhookRequest(tt.body, util.SignHMACSHA256(testSigningKey, []byte(tt.body))))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if len(processor.events) != tt.calls {
				t.Fatalf("expected %d calls, got %d", tt.calls, len(processor.events))
			}
		})
	}
}

func bearer(t *testing.T, tokens *util.JWTManager, orgs ...string) string {
	t.Helper()
	token, _, err := tokens.GenerateServiceToken("importer", orgs)
	if err != nil {
		t.Fatalf("GenerateServiceToken: %v", err)
	}
	return "Bearer " + token
}

func importRequest(auth, org, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/profiles-import?organizationId="+org, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	return req
}

func TestProfileImportRejectsEmptyArray(t *testing.T) {
	e := testRouter()
	tokens := util.NewJWTManager("api-secret", time.Minute)
	importer := &stubImporter{}
	RegisterProfileImports(e, tokens, importer, 0)

	rec := serve(e, importRequest(bearer(t, tokens), "org-1", `[]`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(importer.submitted) != 0 {
		t.Fatalf("empty submissions must not reach the service")
	}
}

func TestProfileImportAccepted(t *testing.T) {
	e := testRouter()
	tokens := util.NewJWTManager("api-secret", time.Minute)
	importer := &stubImporter{}
	RegisterProfileImports(e, tokens, importer, 0)

	rec := serve(e, importRequest(bearer(t, tokens, "org-1"), "org-1", `[{"email":"a@example.com","first_name":"Ada"}]`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != string(domain.ImportStatusPending) {
		t.Fatalf("unexpected status %q", body["status"])
	}
	if _, err := uuid.Parse(body["profileImportId"]); err != nil {
		t.Fatalf("expected profileImportId, got %q", body["profileImportId"])
	}
	if importer.org != "org-1" || importer.submitted[0][0].FirstName != "Ada" {
		t.Fatalf("unexpected submission %+v", importer.submitted)
	}
}

func TestProfileImportAuthorization(t *testing.T) {
	e := testRouter()
	tokens := util.NewJWTManager("api-secret", time.Minute)
	importer := &stubImporter{}
	RegisterProfileImports(e, tokens, importer, 0)
	body := `[{"email":"a@example.com"}]`

	if rec := serve(e, importRequest("", "org-1", body)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	foreign := "Bearer " + mustServiceToken(t, util.NewJWTManager("other", time.Minute))
	if rec := serve(e, importRequest(foreign, "org-1", body)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d", rec.Code)
	}
	if rec := serve(e, importRequest(bearer(t, tokens, "org-2"), "org-1", body)); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another organization, got %d", rec.Code)
	}
	if rec := serve(e, importRequest(bearer(t, tokens), "", body)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without organization, got %d", rec.Code)
	}
	if len(importer.submitted) != 0 {
		t.Fatalf("rejected requests must not reach the service")
	}
}

func mustServiceToken(t *testing.T, tokens *util.JWTManager) string {
	t.Helper()
	token, _, err := tokens.GenerateServiceToken("importer", nil)
	if err != nil {
		t.Fatalf("GenerateServiceToken: %v", err)
	}
	return token
}

func TestProfileImportRowError(t *testing.T) {
	e := testRouter()
	tokens := util.NewJWTManager("api-secret", time.Minute)
	importer := &stubImporter{err: &service.ImportRowError{Position: 2, Err: errors.New("email is invalid")}}
	RegisterProfileImports(e, tokens, importer, 0)

	rec := serve(e, importRequest(bearer(t, tokens), "org-1", `[{"email":"a@example.com"},{"email":"nope"}]`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"position":2`) {
		t.Fatalf("expected row position in body, got %s", rec.Body.String())
	}
}

func TestProfileImportReportAccess(t *testing.T) {
	e := testRouter()
	tokens := util.NewJWTManager("api-secret", time.Minute)
	id := uuid.New()
	importer := &stubImporter{report: &service.ProfileImportReport{
		Import: &domain.ProfileImport{ID: id, OrganisationID: "org-1", Status: domain.ImportStatusProcessing},
	}}
	RegisterProfileImports(e, tokens, importer, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles-import/"+id.String()+"/errors", nil)
	req.Header.Set(echo.HeaderAuthorization, bearer(t, tokens, "org-1"))
	rec := serve(e, req)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/csv") {
		t.Fatalf("expected csv download, got %d %s", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/profiles-import/"+id.String(), nil)
	req.Header.Set(echo.HeaderAuthorization, bearer(t, tokens, "org-9"))
	if rec := serve(e, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	importer.report = nil
	req = httptest.NewRequest(http.MethodGet, "/api/v1/profiles-import/"+id.String(), nil)
	req.Header.Set(echo.HeaderAuthorization, bearer(t, tokens))
	if rec := serve(e, req); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestImportJobCallbackStatuses(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"queued", `{"token":"t"}`, nil, http.StatusAccepted},
		{"missing token", `{}`, nil, http.StatusUnauthorized},
		{"token mismatch", `{"token":"t"}`, service.ErrInvalidJobToken, http.StatusUnauthorized},
		{"already started", `{"token":"t"}`, service.ErrImportAlreadyStarted, http.StatusConflict},
		{"unknown import", `{"token":"t"}`, service.ErrImportNotFound, http.StatusNotFound},
		{"queue full", `{"token":"t"}`, service.ErrImportQueueFull, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testRouter()
			runner := &stubJobRunner{err: tt.err}
			RegisterImportJobs(e, runner)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/import-profiles/"+uuid.NewString(), strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := serve(e, req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSanitizeBodyRedactsSecrets(t *testing.T) {
	summary := sanitizeBody([]byte(`{"token":"abc","data":{"clientSecret":"x","email":"a@example.com"}}`), echo.MIMEApplicationJSON)
	body, ok := summary.(map[string]any)
	if !ok {
		t.Fatalf("expected map summary, got %T", summary)
	}
	if body["token"] != redacted {
		t.Fatalf("expected token to be redacted, got %v", body["token"])
	}
	data := body["data"].(map[string]any)
	if data["clientSecret"] != redacted || data["email"] != "a@example.com" {
		t.Fatalf("unexpected nested summary %v", data)
	}
	if got := redactQuery("/x?token=abc&organizationId=o"); strings.Contains(got, "abc") {
		t.Fatalf("expected query token to be redacted, got %s", got)
	}
}
