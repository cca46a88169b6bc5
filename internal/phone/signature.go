package phone

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/client"
)

// ParamsKey is the echo context key holding the verified webhook form.
const ParamsKey = "twilioParams"

// ValidateSignature checks an X-Twilio-Signature against the full URL and
// form parameters of a webhook request.
func ValidateSignature(authToken, signature, fullURL string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	v := client.NewRequestValidator(authToken)
	return v.Validate(fullURL, params, signature)
}

// SignatureAuth rejects webhook requests whose signature does not match and
// stores the parsed form under ParamsKey.
func SignatureAuth(authToken, publicBaseURL string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}
			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			params := make(map[string]string, len(form))
			for key, values := range form {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			signature := c.Request().Header.Get("X-Twilio-Signature")
			if !ValidateSignature(authToken, signature, AbsoluteURL(c.Request(), publicBaseURL, c.Request().URL.RequestURI()), params) {
				c.Echo().Logger.Warnf("rejected webhook %s: invalid signature", c.Request().URL.Path)
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}
			c.Set(ParamsKey, params)
			return next(c)
		}
	}
}

// AbsoluteURL builds the public URL of path.
// Priority: configured base URL, then X-Forwarded-* headers, then the Host header.
func AbsoluteURL(r *http.Request, publicBaseURL, path string) string {
	if publicBaseURL != "" {
		return strings.TrimRight(publicBaseURL, "/") + path
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if proto == "" {
		proto = "https"
		if strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") {
			proto = "http"
		}
	}
	return fmt.Sprintf("%s://%s%s", proto, host, path)
}

func params(c echo.Context) map[string]string {
	p, _ := c.Get(ParamsKey).(map[string]string)
	if p == nil {
		p = map[string]string{}
	}
	return p
}
