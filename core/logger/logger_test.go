package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithLogger(t *testing.T) {
	ctx, rlog := ContextWithLogger(context.Background())
	require.NotNil(t, rlog)
	id := RequestIDFromContext(ctx)
	assert.NotEmpty(t, id)

	// a second call keeps the existing logger
	ctx2, rlog2 := ContextWithLogger(ctx)
	assert.Equal(t, rlog, rlog2)
	assert.Equal(t, id, RequestIDFromContext(ctx2))

	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.NotNil(t, FromContext(nil))
}

func TestContextWithLoggerIdentity(t *testing.T) {
	ctx, rlog := ContextWithLoggerIdentity(context.Background(), "ann@example.com")
	assert.Equal(t, "ann@example.com", rlog.Data[identityLoggerKey])
	assert.NotEmpty(t, RequestIDFromContext(ctx))
}

func TestAddRequestID(t *testing.T) {
	router := mux.NewRouter()
	AddRequestID(router)
	var seen string
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "upstream-42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-42", seen)
	assert.Equal(t, "upstream-42", rec.Header().Get(RequestIDHeader))
}
