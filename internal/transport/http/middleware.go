package http

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/njprem/Profile_APP_BackEnd/internal/util"
)

const (
	contextClaimsKey       = "service_claims"
	webhookSignatureHeader = "logto-signature-sha-256"
	maxWebhookBody         = 1 << 20
)

func RequireAuth(tokens *util.JWTManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if strings.TrimSpace(authHeader) == "" {
				return c.JSON(http.StatusUnauthorized, util.Error("missing authorization header"))
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return c.JSON(http.StatusUnauthorized, util.Error("invalid authorization header"))
			}
			claims, err := tokens.ParseServiceToken(strings.TrimSpace(parts[1]))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, util.Error("invalid token"))
			}
			c.Set(contextClaimsKey, claims)
			return next(c)
		}
	}
}

func CurrentClaims(c echo.Context) (*util.ServiceClaims, bool) {
	claims, ok := c.Get(contextClaimsKey).(*util.ServiceClaims)
	return claims, ok && claims != nil
}

// RequireWebhookSignature rejects requests whose body does not match the
// hex HMAC-SHA256 in the logto-signature-sha-256 header. The body is restored
// for the next handler.
func RequireWebhookSignature(signingKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody+1))
			if err != nil {
				return c.JSON(http.StatusBadRequest, util.Error("unable to read body"))
			}
			if len(body) > maxWebhookBody {
				return c.JSON(http.StatusRequestEntityTooLarge, util.Error("body too large"))
			}
			if !util.VerifyHMACSHA256(signingKey, body, req.Header.Get(webhookSignatureHeader)) {
				return c.JSON(http.StatusUnauthorized, util.Error("invalid webhook signature"))
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			return next(c)
		}
	}
}

func canAccess(c echo.Context, organisationID string) bool {
	claims, ok := CurrentClaims(c)
	return ok && claims.CanAccess(organisationID)
}
