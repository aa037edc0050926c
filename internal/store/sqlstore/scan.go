package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"

	"github.com/jackc/pgx/v5/pgconn"
)

// sqliteTimeLayout is fixed width so that text comparison orders like time
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// timeValue scans TIMESTAMPTZ values and sqlite text alike
type timeValue struct {
	t     time.Time
	valid bool
}

func (v *timeValue) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		v.t, v.valid = time.Time{}, false
		return nil
	case time.Time:
		v.t, v.valid = x.UTC(), true
		return nil
	case string:
		return v.parse(x)
	case []byte:
		return v.parse(string(x))
	}
	return fmt.Errorf("sqlstore: cannot scan %T into time", src)
}

func (v *timeValue) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			v.t, v.valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("sqlstore: unparseable time %q", s)
}

func (v timeValue) ptr() *time.Time {
	if !v.valid {
		return nil
	}
	t := v.t
	return &t
}

func metadataArg(md models.Metadata) any {
	s, ok := md.Encode()
	if !ok {
		return nil
	}
	return s
}

func decodeMetadata(ns sql.NullString) models.Metadata {
	if !ns.Valid {
		return nil
	}
	return models.DecodeMetadata(ns.String)
}

func stringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Arg(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// translate maps driver errors onto tracking error kinds
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", what, tracking.ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", what, tracking.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}
