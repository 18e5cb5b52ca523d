package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeConflict, status: http.StatusConflict},
		{code: CodeInsufficientCredits, status: http.StatusPaymentRequired, detailsOK: true},
		{code: CodeSignupRequired, status: http.StatusForbidden, detailsOK: true},
		{code: CodeNoFaceDetected, status: http.StatusUnprocessableEntity},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s has no public message", tt.code)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	wrapped := Wrap(CodeDependency, cause, "load account")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if !wrapped.Retryable() {
		t.Fatalf("dependency errors should be retryable")
	}
	if got := wrapped.Error(); got != "DEPENDENCY_ERROR: load account: connection refused" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestIsCodeThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("handler: %w", New(CodeSignupRequired, "anonymous quota used"))
	if !IsCode(err, CodeSignupRequired) {
		t.Fatalf("expected signup required code in chain")
	}
	if IsCode(err, CodeInsufficientCredits) {
		t.Fatalf("unexpected code match")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestDumpExtractsPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_ratings_image_hash", TableName: "ratings"}
	err := Wrap(CodeConflict, pgErr, "insert rating")

	dump := Dump(err)
	if dump.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", dump.Code)
	}
	if dump.Postgres.Code != "23505" || dump.Postgres.Constraint != "ux_ratings_image_hash" || dump.Postgres.Table != "ratings" {
		t.Fatalf("unexpected pg fields: %+v", dump.Postgres)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected 2 chain entries, got %d", len(dump.Chain))
	}
	fields := dump.Fields()
	if fields["pg_constraint"] != "ux_ratings_image_hash" || fields["error_code"] != "CONFLICT" {
		t.Fatalf("unexpected log fields: %v", fields)
	}
	if _, ok := fields["pg_detail"]; ok {
		t.Fatalf("empty pg fields must be omitted")
	}
}

func TestDumpOfUntypedError(t *testing.T) {
	dump := Dump(stdErrors.New("boom"))
	if dump.Code != "" || dump.TopMessage != "boom" {
		t.Fatalf("unexpected dump %+v", dump)
	}
	if _, ok := dump.Fields()["error_chain"]; ok {
		t.Fatalf("single-link chains are not logged")
	}
}

func TestPublicMessage(t *testing.T) {
	if got := New(CodeConflict, "email already registered").PublicMessage(); got != "email already registered" {
		t.Fatalf("client codes expose their message, got %q", got)
	}
	if got := Wrap(CodeDependency, stdErrors.New("dial tcp"), "load account").PublicMessage(); got != "dependency unavailable" {
		t.Fatalf("server codes hide their message, got %q", got)
	}
	if got := New(CodeNotFound, "").PublicMessage(); got != "resource not found" {
		t.Fatalf("empty message falls back, got %q", got)
	}
	if CodeOf(stdErrors.New("x")) != CodeInternal {
		t.Fatalf("untyped errors are internal")
	}
}
