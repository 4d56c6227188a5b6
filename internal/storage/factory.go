package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/agentworkforce/relaycrm/internal/crm"
)

// Factory builds a store from a DSN whose scheme it was registered for.
type Factory func(dsn string, opts Options) (crm.Store, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// RegisterFactory makes Open route scheme to factory, overriding the
// built-in backends.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// Open builds the store named by dsn:
//
//	memory://                      in-process store
//	postgres://... postgresql://   PostgreSQL
//	sqlite:///abs/path.db          SQLite file
//	sqlite://relative/path.db
//	path/to/file.db                SQLite file
func Open(dsn string, opts Options) (crm.Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty store dsn", crm.ErrInvalidInput)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn, opts)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn, opts)
	case "sqlite", "sqlite3", "file", "":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteStore(path, opts)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}

// Migrator is implemented by stores that create their schema explicitly.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Migrate creates the schema when the store needs one.
func Migrate(ctx context.Context, store crm.Store) error {
	if m, ok := store.(Migrator); ok {
		return m.Migrate(ctx)
	}
	return nil
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Host + parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("%w: missing path in dsn %s", crm.ErrInvalidInput, raw)
	}
	return path, nil
}
