package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/omnifin/backoffice/pkg/metrics"
)

func TestRequestLogger_LogsRequests(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Message != "HTTP request" {
		t.Errorf("expected message 'HTTP request', got '%s'", entry.Message)
	}
	if entry.ContextMap()["route"] != "unmatched" {
		t.Errorf("expected route 'unmatched' outside a mux, got %v", entry.ContextMap()["route"])
	}
}

func TestRequestLogger_NilLogger_PassesThrough(t *testing.T) {
	called := false
	handler := RequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequestLogger_UsesMuxPatternAsRoute(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := RequestLogger(zap.New(core))(mux)

	before := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "GET /api/orders/{id}", "404"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/17", nil))

	entry := logs.All()[0]
	if entry.ContextMap()["route"] != "GET /api/orders/{id}" {
		t.Errorf("expected route pattern, got %v", entry.ContextMap()["route"])
	}
	if entry.ContextMap()["status"] != int64(http.StatusNotFound) {
		t.Errorf("expected status 404, got %v", entry.ContextMap()["status"])
	}

	after := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "GET /api/orders/{id}", "404"))
	if after != before+1 {
		t.Errorf("expected request counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestResponseWriter_PreventsDuplicateWriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.statusCode != http.StatusCreated {
		t.Errorf("expected status to remain %d, got %d", http.StatusCreated, rw.statusCode)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected recorded status %d, got %d", http.StatusCreated, rec.Code)
	}
}

func TestResponseWriter_WriteTriggersWriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	if _, err := rw.Write([]byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rw.headerWritten {
		t.Error("expected headerWritten to be true")
	}

	rw.WriteHeader(http.StatusTeapot)
	if rw.statusCode != http.StatusOK {
		t.Errorf("a header after the body must be ignored, got %d", rw.statusCode)
	}
}
