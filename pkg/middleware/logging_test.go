package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerCapturesStatusAndSize(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("stale"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/records", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusConflict) {
		t.Errorf("Expected the written status logged, got %v", fields["status"])
	}
	if fields["bytes"] != int64(len("stale")) {
		t.Errorf("Expected the body size logged, got %v", fields["bytes"])
	}
	if fields["method"] != http.MethodPost || fields["path"] != "/api/records" {
		t.Errorf("Expected method and path logged, got %v %v", fields["method"], fields["path"])
	}
}

func TestRequestLoggerSkipsHealthProbes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if logs.Len() != 0 {
		t.Errorf("Expected health probes unlogged, got %d entries", logs.Len())
	}
}
