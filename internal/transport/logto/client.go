package logto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/repository/ports"
	"github.com/njprem/Profile_APP_BackEnd/internal/util"
)

const managementScope = "all"

type Options struct {
	Endpoint   string
	AppID      string
	AppSecret  string
	Resource   string
	Retry      util.RetryOptions
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// APIError is a non-2xx answer from the Logto management API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("logto: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("logto: %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed when sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client calls the Logto management API for one organization.
type Client struct {
	endpoint       string
	organizationID string
	tokens         oauth2.TokenSource
	http           *http.Client
	retry          util.RetryOptions
	logger         logrus.FieldLogger
}

var _ ports.IdentityClient = (*Client)(nil)

func NewClient(organizationID string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	endpoint := strings.TrimRight(opts.Endpoint, "/")

	cc := &clientcredentials.Config{
		ClientID:     opts.AppID,
		ClientSecret: opts.AppSecret,
		TokenURL:     endpoint + "/oidc/token",
		Scopes:       []string{managementScope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if opts.Resource != "" {
		cc.EndpointParams = url.Values{"resource": {opts.Resource}}
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	return &Client{
		endpoint:       endpoint,
		organizationID: organizationID,
		tokens:         cc.TokenSource(tokenCtx),
		http:           httpClient,
		retry:          opts.Retry,
		logger:         logger.WithField("organization_id", organizationID),
	}
}

// AccessToken returns a cached management API token, refreshing it when it
// has expired.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	token, err := util.WithRetry(ctx, c.retry, func(ctx context.Context) (*oauth2.Token, error) {
		return c.tokens.Token()
	})
	if err != nil {
		return "", errors.Wrap(err, "logto: fetch access token")
	}
	return token.AccessToken, nil
}

type createUserRequest struct {
	PrimaryEmail string             `json:"primaryEmail"`
	Name         string             `json:"name,omitempty"`
	Profile      *createUserProfile `json:"profile,omitempty"`
	CustomData   map[string]string  `json:"customData,omitempty"`
}

type createUserProfile struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
}

func (c *Client) CreateUser(ctx context.Context, token string, input ports.CreateIdentityInput) (*domain.CreatedIdentity, error) {
	body := createUserRequest{
		PrimaryEmail: input.PrimaryEmail,
		Name:         input.Name,
		CustomData: map[string]string{
			"jobId":          input.JobID,
			"organizationId": input.OrganizationID,
		},
	}
	if input.GivenName != "" || input.FamilyName != "" {
		body.Profile = &createUserProfile{GivenName: input.GivenName, FamilyName: input.FamilyName}
	}

	created, err := util.WithRetry(ctx, c.retryFor("create user"), func(ctx context.Context) (*domain.CreatedIdentity, error) {
		var out domain.CreatedIdentity
		if err := c.do(ctx, http.MethodPost, "/api/users", token, body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "logto: create user %s", input.PrimaryEmail)
	}
	return created, nil
}

func (c *Client) AddOrganizationUsers(ctx context.Context, token string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	path := "/api/organizations/" + url.PathEscape(c.organizationID) + "/users"
	body := map[string][]string{"userIds": userIDs}

	_, err := util.WithRetry(ctx, c.retryFor("add organization users"), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.do(ctx, http.MethodPost, path, token, body, nil)
	})
	if err != nil {
		return errors.Wrapf(err, "logto: add %d users to organization %s", len(userIDs), c.organizationID)
	}
	return nil
}

func (c *Client) retryFor(operation string) util.RetryOptions {
	opts := c.retry
	opts.OnRetry = func(err error, next time.Duration) {
		c.logger.WithError(err).WithField("retry_in", next.String()).Warnf("logto %s failed, retrying", operation)
	}
	return opts
}

func (c *Client) do(ctx context.Context, method, path, token string, payload, out any) error {
	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return util.Permanent(err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return util.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil && body.Message != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		}
		if apiErr.Retryable() {
			return apiErr
		}
		return util.Permanent(apiErr)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return util.Permanent(errors.Wrap(err, "decode response"))
	}
	return nil
}
