package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newRequestIDRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		id, _ := c.Get(RequestIDKey)
		c.String(http.StatusOK, "%v", id)
	})
	return router
}

func TestRequestID_Generated(t *testing.T) {
	router := newRequestIDRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	header := rec.Header().Get(RequestIDHeader)
	if header == "" {
		t.Fatal("X-Request-ID header missing")
	}
	if _, err := uuid.Parse(header); err != nil {
		t.Errorf("X-Request-ID %q is not a UUID: %v", header, err)
	}
	if rec.Body.String() != header {
		t.Errorf("context id %q != header %q", rec.Body.String(), header)
	}
}

func TestRequestID_InboundReused(t *testing.T) {
	router := newRequestIDRouter()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "upstream-id-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "upstream-id-1" {
		t.Errorf("X-Request-ID = %q, want %q", got, "upstream-id-1")
	}
}
