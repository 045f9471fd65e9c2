package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Retryable  bool     `json:"retryable"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

// Dump records every link of the chain plus the Postgres diagnostics of
// whichever driver produced the error: pgx under GORM, lib/pq under goose.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	code := CodeOf(err)
	d := ErrorDump{TopMessage: err.Error(), Code: code, Retryable: MetadataFor(code).Retryable}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) {
		d.PGCode, d.PGConstraint, d.PGTable = pgErr.Code, pgErr.ConstraintName, pgErr.TableName
		d.PGDetail, d.PGMessage = pgErr.Detail, pgErr.Message
	} else if pqErr := (*pq.Error)(nil); errors.As(err, &pqErr) {
		d.PGCode, d.PGConstraint, d.PGTable = string(pqErr.Code), pqErr.Constraint, pqErr.Table
		d.PGDetail, d.PGMessage = pqErr.Detail, pqErr.Message
	}
	return d
}

// Fields renders the dump as log fields. Empty driver details are left out.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
		"retryable":   d.Retryable,
	}
	optional := [...]struct{ key, value string }{
		{"pg_code", d.PGCode},
		{"pg_constraint", d.PGConstraint},
		{"pg_table", d.PGTable},
		{"pg_detail", d.PGDetail},
		{"pg_message", d.PGMessage},
	}
	for _, f := range optional {
		if f.value != "" {
			fields[f.key] = f.value
		}
	}
	return fields
}
