package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newSecuredRouter(cfg SecurityHeadersConfig) *gin.Engine {
	router := gin.New()
	router.Use(SecurityHeadersMiddleware(cfg))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestSecurityHeaders_Defaults(t *testing.T) {
	router := newSecuredRouter(DefaultSecurityHeadersConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	want := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}

	// Plain HTTP request, no HSTS.
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q on plain HTTP, want empty", got)
	}
}

func TestSecurityHeaders_HSTSOnTLS(t *testing.T) {
	router := newSecuredRouter(DefaultSecurityHeadersConfig())

	req := httptest.NewRequest(http.MethodGet, "https://example.com/ping", nil)
	req.TLS = &tls.ConnectionState{}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	want := "max-age=31536000; includeSubDomains"
	if got := rec.Header().Get("Strict-Transport-Security"); got != want {
		t.Errorf("Strict-Transport-Security = %q, want %q", got, want)
	}
}

func TestSecurityHeaders_DisabledValuesOmitted(t *testing.T) {
	router := newSecuredRouter(SecurityHeadersConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	for _, header := range []string{"X-Frame-Options", "Content-Security-Policy", "Referrer-Policy"} {
		if got := rec.Header().Get(header); got != "" {
			t.Errorf("%s = %q, want empty", header, got)
		}
	}
}
