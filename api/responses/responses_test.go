package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env.Error
}

func TestWriteSuccessStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccessStatus(rec, http.StatusCreated, map[string]int{"balance": 5})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"data":{"balance":5}}` {
		t.Fatalf("body = %s", got)
	}
}

func TestWriteSuccessUnencodablePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]any{"bad": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != string(pkgerrors.CodeInternal) {
		t.Fatalf("code = %s", e.Code)
	}
}

func TestWriteErrorRendering(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		status      int
		message     string
		wantDetails bool
	}{
		{
			name:        "validation keeps message and details",
			err:         pkgerrors.New(pkgerrors.CodeValidation, "bad input").WithDetails(map[string]string{"field": "email"}),
			status:      http.StatusBadRequest,
			message:     "bad input",
			wantDetails: true,
		},
		{
			name:        "insufficient credits",
			err:         pkgerrors.New(pkgerrors.CodeInsufficientCredits, "no credits remaining").WithDetails(map[string]int{"balance": 0}),
			status:      http.StatusPaymentRequired,
			message:     "no credits remaining",
			wantDetails: true,
		},
		{
			name:    "signup required",
			err:     pkgerrors.New(pkgerrors.CodeSignupRequired, "free analyses used up"),
			status:  http.StatusForbidden,
			message: "free analyses used up",
		},
		{
			name:    "no face",
			err:     pkgerrors.New(pkgerrors.CodeNoFaceDetected, "no face found"),
			status:  http.StatusUnprocessableEntity,
			message: "no face found",
		},
		{
			name:    "dependency hides its message",
			err:     pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("dial tcp"), "scorer call"),
			status:  http.StatusServiceUnavailable,
			message: "dependency unavailable",
		},
		{
			name:    "wrapped typed error",
			err:     fmt.Errorf("handler: %w", pkgerrors.New(pkgerrors.CodeNotFound, "rating not found")),
			status:  http.StatusNotFound,
			message: "rating not found",
		},
		{
			name:    "untyped error becomes internal",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: "internal server error",
		},
		{
			name:    "nil error",
			err:     nil,
			status:  http.StatusInternalServerError,
			message: "internal server error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(context.Background(), logger.Nop(), rec, tc.err)

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			got := decodeError(t, rec)
			if got.Message != tc.message {
				t.Fatalf("message = %q, want %q", got.Message, tc.message)
			}
			if (got.Details != nil) != tc.wantDetails {
				t.Fatalf("details = %v, want present=%v", got.Details, tc.wantDetails)
			}
		})
	}
}

func TestWriteErrorLogsServerFailures(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})

	WriteError(context.Background(), logg, httptest.NewRecorder(), errors.New("pool exhausted"))

	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, "pool exhausted") {
		t.Fatalf("expected error log with cause, got %s", out)
	}
}
