package httpx

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func csrfHandler(cfg CSRFConfig) http.Handler {
	return CSRFProtection(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRFProtection_SafeMethodIssuesCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	csrfHandler(CSRFConfig{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	c := findCookie(t, rec, DefaultCSRFCookieName)
	require.NotNil(t, c)
	assert.NotEmpty(t, c.Value)
	assert.False(t, c.HttpOnly)
	assert.False(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
}

func TestCSRFProtection_CookieKeptWhenPresent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: "existing"})
	rec := httptest.NewRecorder()
	csrfHandler(CSRFConfig{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, findCookie(t, rec, DefaultCSRFCookieName))
}

func TestCSRFProtection_SecureBehindTLS(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{name: "direct tls", setup: func(r *http.Request) { r.TLS = &tls.ConnectionState{} }},
		{name: "forwarded proto", setup: func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "http, HTTPS") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			csrfHandler(CSRFConfig{}).ServeHTTP(rec, req)

			c := findCookie(t, rec, DefaultCSRFCookieName)
			require.NotNil(t, c)
			assert.True(t, c.Secure)
		})
	}
}

func TestCSRFProtection_StateChangingRequests(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   int
	}{
		{name: "no token", want: http.StatusForbidden},
		{name: "cookie only", cookie: "tok", want: http.StatusForbidden},
		{name: "header only", header: "tok", want: http.StatusForbidden},
		{name: "mismatch", cookie: "tok", header: "other", want: http.StatusForbidden},
		{name: "match", cookie: "tok", header: "tok", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/session/extend", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(DefaultCSRFHeaderName, tt.header)
			}
			rec := httptest.NewRecorder()
			csrfHandler(CSRFConfig{}).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				assert.Contains(t, rec.Body.String(), "csrf_failed")
			}
		})
	}
}

func TestCSRFProtection_Disabled(t *testing.T) {
	rec := httptest.NewRecorder()
	csrfHandler(CSRFConfig{Disabled: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, findCookie(t, rec, DefaultCSRFCookieName))
}

func TestRequiresCSRFValidation(t *testing.T) {
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace} {
		assert.False(t, requiresCSRFValidation(m), m)
	}
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		assert.True(t, requiresCSRFValidation(m), m)
	}
}
