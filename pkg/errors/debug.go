package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: the typed code, the
// unwrap chain and, when a postgres error sits in the chain, its SQLSTATE and
// the table or constraint it names. Empty values are left out.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{"error": err.Error()}
	if te := As(err); te != nil {
		fields["error_code"] = string(te.Code())
	}

	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	if len(chain) > 1 {
		fields["error_chain"] = chain
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		addNonEmpty(fields, "pg_code", pgxErr.Code)
		addNonEmpty(fields, "pg_constraint", pgxErr.ConstraintName)
		addNonEmpty(fields, "pg_table", pgxErr.TableName)
		addNonEmpty(fields, "pg_detail", pgxErr.Detail)
	case errors.As(err, &pqErr):
		addNonEmpty(fields, "pg_code", string(pqErr.Code))
		addNonEmpty(fields, "pg_constraint", pqErr.Constraint)
		addNonEmpty(fields, "pg_table", pqErr.Table)
		addNonEmpty(fields, "pg_detail", pqErr.Detail)
	}
	return fields
}

func addNonEmpty(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
