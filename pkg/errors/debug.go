package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain for logs. Postgres fields are filled from
// whichever driver error is found first.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`
	Postgres   PGFields `json:"postgres,omitempty"`
}

type PGFields struct {
	Code       string `json:"code,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

type pgExtractor func(error) (PGFields, bool)

var pgExtractors = []pgExtractor{
	func(err error) (PGFields, bool) {
		var e *pgconn.PgError
		if !errors.As(err, &e) {
			return PGFields{}, false
		}
		return PGFields{Code: e.Code, Constraint: e.ConstraintName, Table: e.TableName, Detail: e.Detail, Message: e.Message}, true
	},
	func(err error) (PGFields, bool) {
		var e *pq.Error
		if !errors.As(err, &e) {
			return PGFields{}, false
		}
		return PGFields{Code: string(e.Code), Constraint: e.Constraint, Table: e.Table, Detail: e.Detail, Message: e.Message}, true
	},
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.code
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	for _, extract := range pgExtractors {
		if fields, ok := extract(err); ok {
			d.Postgres = fields
			break
		}
	}
	return d
}

// Fields returns the non-empty dump attributes keyed for structured logs.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{"error": d.TopMessage}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	pg := d.Postgres
	for key, val := range map[string]string{
		"pg_code":       pg.Code,
		"pg_constraint": pg.Constraint,
		"pg_table":      pg.Table,
		"pg_detail":     pg.Detail,
		"pg_message":    pg.Message,
	} {
		if val != "" {
			fields[key] = val
		}
	}
	return fields
}
