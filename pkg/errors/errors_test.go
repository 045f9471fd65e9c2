package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected", detailsOK: true},
		{code: CodeSignatureInvalid, status: http.StatusBadRequest, publicMsg: "invalid signature"},
		{code: CodeIdempotency, status: http.StatusConflict, publicMsg: "idempotency key reused", detailsOK: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded", retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true},
	}

	for _, tt := range tests {
		if got := New(tt.code, "x").Retryable(); got != tt.retryable {
			t.Fatalf("code %s expected Retryable()=%v", tt.code, tt.retryable)
		}
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
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

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails([]map[string]string{{"field": "foo"}})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	if got := Newf(CodeNotFound, "order %s", "o-1").Error(); got != "NOT_FOUND: order o-1" {
		t.Fatalf("unexpected Error() %q", got)
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if wrapped.Error() != "CONFLICT: ctx: boom" {
		t.Fatalf("unexpected wrapped Error() %q", wrapped.Error())
	}
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsAndIsCodeSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("fulfill: %w", New(CodeConflict, "listing sold"))
	if got := As(err); got == nil || got.Code() != CodeConflict {
		t.Fatalf("As failed to return typed error")
	}
	if !IsCode(err, CodeConflict) {
		t.Fatalf("expected IsCode to match conflict")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatalf("IsCode matched the wrong code")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("untyped errors should report internal")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestDumpCapturesPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_orders_buyer_current", TableName: "orders"}
	err := Wrap(CodeInternal, pgErr, "insert order")

	d := Dump(err)
	if d.Code != CodeInternal || !d.Retryable {
		t.Fatalf("unexpected dump classification: %+v", d)
	}
	if d.PGCode != "23505" || d.PGConstraint != "ux_orders_buyer_current" {
		t.Fatalf("expected postgres details, got %+v", d)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", d.Chain)
	}
	fields := d.Fields()
	if fields["pg_table"] != "orders" {
		t.Fatalf("expected pg_table field, got %v", fields)
	}
	if _, ok := Dump(New(CodeConflict, "x")).Fields()["pg_code"]; ok {
		t.Fatalf("empty driver details should be omitted")
	}
}

func TestDumpCapturesLibPQDetails(t *testing.T) {
	err := fmt.Errorf("goose up: %w", &pq.Error{Code: "42P07", Table: "orders", Message: "relation already exists"})
	d := Dump(err)
	if d.PGCode != "42P07" || d.PGTable != "orders" {
		t.Fatalf("expected lib/pq details, got %+v", d)
	}
	if d.Code != CodeInternal {
		t.Fatalf("untyped driver errors classify as internal, got %s", d.Code)
	}
}
