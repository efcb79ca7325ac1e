package factory

import (
	"errors"
	"strings"

	"github.com/loykin/invigil/internal/store"
	fs "github.com/loykin/invigil/internal/store/file"
	pg "github.com/loykin/invigil/internal/store/postgres"
	sq "github.com/loykin/invigil/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - memory:   "memory://"
//   - file:     "file://<path>" (JSON document)
//   - sqlite:   "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Gateway, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case ld == "":
		return nil, errors.New("empty DSN")
	case strings.HasPrefix(ld, "memory://"):
		return store.NewMemory(), nil
	case strings.HasPrefix(ld, "file://"):
		return fs.New(d[len("file://"):])
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	}
	// default to sqlite path
	return sq.New(d)
}
