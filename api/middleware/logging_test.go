package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/face10ai/credits-backend/pkg/logger"
)

func TestLoggingWritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "api", Output: &buf})
	h := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "request.complete" || line["path"] != "/api/v1/analyze" {
		t.Fatalf("unexpected log line %v", line)
	}
	if line["status"] != float64(http.StatusCreated) || line["bytes"] != float64(4) {
		t.Fatalf("unexpected status or size %v", line)
	}
}

func TestLoggingSkipsProbes(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "api", Output: &buf})
	h := Logging(logg)(okProbe())

	for _, path := range []string{"/health/ready", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if strings.TrimSpace(buf.String()) != "" {
		t.Fatalf("expected no access lines, got %s", buf.String())
	}
}

func okProbe() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
