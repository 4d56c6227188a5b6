package storage

import (
	_ "github.com/lib/pq"
)

// PostgresStore is the production store. The schema is created on first use.
type PostgresStore struct {
	*sqlStore
}

func NewPostgresStore(dsn string, opts Options) (*PostgresStore, error) {
	core, err := newSQLStore(postgresDialect, dsn, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: core}, nil
}
