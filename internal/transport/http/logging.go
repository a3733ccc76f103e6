package http

import (
	"encoding/json"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

const (
	requestBodyLogKey  = "http.request.body.summary"
	responseBodyLogKey = "http.response.body.summary"
	maxLoggedBody      = 2048
	redacted           = "redacted"
)

var sensitiveKeys = []string{"password", "token", "secret", "signature"}

func registerLogging(e *echo.Echo, logger logrus.FieldLogger) {
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"method":     v.Method,
				"uri":        redactQuery(v.URI),
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"caller":     "anonymous",
			}
			if claims, ok := CurrentClaims(c); ok {
				fields["caller"] = claims.Subject
			}
			if org := c.QueryParam("organizationId"); org != "" {
				fields["organization_id"] = org
			}
			if summary := c.Get(requestBodyLogKey); summary != nil {
				fields["request_body"] = summary
			}
			if summary := c.Get(responseBodyLogKey); summary != nil {
				fields["response_body"] = summary
			}

			entry := logger.WithFields(fields)
			switch {
			case v.Error != nil:
				entry.WithError(v.Error).Error("http request")
			case v.Status >= 500:
				entry.Error("http request")
			case v.Status >= 400:
				entry.Warn("http request")
			default:
				entry.Info("http request")
			}
			return nil
		},
	}))

	e.Use(middleware.BodyDumpWithConfig(middleware.BodyDumpConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasSuffix(c.Path(), "/metrics")
		},
		Handler: func(c echo.Context, reqBody, resBody []byte) {
			if summary := sanitizeBody(reqBody, c.Request().Header.Get(echo.HeaderContentType)); summary != nil {
				c.Set(requestBodyLogKey, summary)
			}
			if summary := sanitizeBody(resBody, c.Response().Header().Get(echo.HeaderContentType)); summary != nil {
				c.Set(responseBodyLogKey, summary)
			}
		},
	}))
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func sanitizeBody(body []byte, contentType string) any {
	if len(body) == 0 {
		return nil
	}
	loweredType := strings.ToLower(strings.TrimSpace(contentType))

	switch {
	case strings.HasPrefix(loweredType, "multipart/"):
		return "multipart"
	case strings.HasPrefix(loweredType, "text/csv"):
		return "csv"
	}

	if strings.HasPrefix(loweredType, "application/json") || json.Valid(body) {
		var data any
		if err := json.Unmarshal(body, &data); err == nil {
			return limitJSONSize(sanitizeJSON(data, ""))
		}
	}

	if containsBinaryBytes(body) {
		return "binary"
	}
	text := string(body)
	if isSensitive(text) {
		return redacted
	}
	return clampString(text)
}

// limitJSONSize replaces oversized payloads with a short description.
func limitJSONSize(value any) any {
	buf, err := json.Marshal(value)
	if err != nil || len(buf) <= maxLoggedBody {
		return value
	}
	summary := map[string]any{"_truncated": true, "_bytes": len(buf)}
	if items, ok := value.([]any); ok {
		summary["_total_items"] = len(items)
	}
	return summary
}

func sanitizeJSON(value any, keyHint string) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			if isSensitive(key) {
				result[key] = redacted
				continue
			}
			result[key] = sanitizeJSON(val, key)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = sanitizeJSON(item, keyHint)
		}
		return result
	case string:
		if keyHint != "" && isSensitive(keyHint) {
			return redacted
		}
		return clampString(v)
	default:
		return v
	}
}

func redactQuery(uri string) string {
	parsed, err := url.ParseRequestURI(uri)
	if err != nil || parsed.RawQuery == "" {
		return uri
	}
	query := parsed.Query()
	changed := false
	for key := range query {
		if isSensitive(key) {
			query.Set(key, redacted)
			changed = true
		}
	}
	if !changed {
		return uri
	}
	parsed.RawQuery = query.Encode()
	return parsed.RequestURI()
}

func containsBinaryBytes(data []byte) bool {
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			return true
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return true
		}
		data = data[size:]
	}
	return false
}

func clampString(value string) string {
	if len(value) <= maxLoggedBody {
		return value
	}
	truncated := value[:maxLoggedBody]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "...(truncated)"
}
