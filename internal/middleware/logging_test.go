package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPRequestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var capturedID string
	handler := HTTPRequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := RequestIDFromContext(r.Context())
		if !ok {
			t.Fatal("request ID missing from context")
		}
		capturedID = id
		w.WriteHeader(http.StatusTeapot)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/status?token=secret", nil))

	if recorder.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", recorder.Code)
	}

	output := buf.String()
	if !strings.Contains(output, capturedID) {
		t.Fatal("log output missing request ID")
	}
	if !strings.Contains(output, `"status_code":418`) {
		t.Fatalf("log output missing status code: %s", output)
	}
	if strings.Contains(output, "secret") {
		t.Fatal("query string leaked into log output")
	}
}

func TestLoggerFromContextFallback(t *testing.T) {
	if LoggerFromContext(context.Background()) == nil {
		t.Fatal("expected the default logger")
	}
}
