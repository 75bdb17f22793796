package implementation

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// nullString stores the empty string as NULL
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

// isUniqueViolation matches Postgres error 23505
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// queryBuilder collects placeholders and "col = $n" assignments for dynamic statements
type queryBuilder struct {
	sets []string
	args []interface{}
}

// arg registers a value and returns its placeholder
func (b *queryBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *queryBuilder) set(column string, v interface{}) {
	b.sets = append(b.sets, column+" = "+b.arg(v))
}

func (b *queryBuilder) expr(assignment string) {
	b.sets = append(b.sets, assignment)
}

func (b *queryBuilder) clause() string {
	return strings.Join(b.sets, ", ")
}

// inClause renders "column = ANY($n)" for a string list
func inClause(column string, b *queryBuilder, ids []string) string {
	return column + " = ANY(" + b.arg(pq.Array(ids)) + ")"
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
