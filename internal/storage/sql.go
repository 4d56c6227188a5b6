package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/relaycrm/internal/crm"
)

const (
	defaultOperationTimeout = 5 * time.Second
	nameMatchLimit          = 50
	defaultSyncLogLimit     = 100
	sqliteTimeLayout        = "2006-01-02T15:04:05.000000000Z07:00"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// dialect captures the differences between PostgreSQL and SQLite that the
// shared SQL below cares about.
type dialect struct {
	name         string
	driver       string
	idType       string
	floatType    string
	boolType     string
	boolDefault  string
	timeType     string
	numbered     bool
	maxOpenConns int
}

var (
	postgresDialect = dialect{
		name:        "postgres",
		driver:      "postgres",
		idType:      "UUID",
		floatType:   "DOUBLE PRECISION",
		boolType:    "BOOLEAN",
		boolDefault: "FALSE",
		timeType:    "TIMESTAMPTZ",
		numbered:    true,
	}
	sqliteDialect = dialect{
		name:         "sqlite",
		driver:       "sqlite",
		idType:       "TEXT",
		floatType:    "REAL",
		boolType:     "INTEGER",
		boolDefault:  "0",
		timeType:     "TEXT",
		maxOpenConns: 1,
	}
)

// rebind rewrites `?` placeholders as `$n` for PostgreSQL.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) timeArg(t time.Time) any {
	t = t.UTC()
	if d.timeType == "TEXT" {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func parseStoredTime(v any) (time.Time, error) {
	switch typed := v.(type) {
	case time.Time:
		return typed.UTC(), nil
	case string:
		return time.Parse(sqliteTimeLayout, typed)
	case []byte:
		return time.Parse(sqliteTimeLayout, string(typed))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported stored time type %T", v)
	}
}

// Options tune a SQL-backed store.
type Options struct {
	// TablePrefix is prepended to every table name.
	TablePrefix      string
	OperationTimeout time.Duration
}

type tableNames struct {
	leads         string
	opportunities string
	syncLog       string
}

// sqlStore is the crm.Store shared by the PostgreSQL and SQLite backends.
// The schema is created lazily on first use.
type sqlStore struct {
	dsn       string
	dialect   dialect
	tables    tableNames
	opTimeout time.Duration
	openDB    sqlOpenFunc
	now       func() time.Time

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

var _ crm.Store = (*sqlStore)(nil)

func newSQLStore(d dialect, dsn string, opts Options) (*sqlStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, crm.ErrInvalidInput
	}
	timeout := opts.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	prefix := strings.TrimSpace(opts.TablePrefix)
	return &sqlStore{
		dsn:     dsn,
		dialect: d,
		tables: tableNames{
			leads:         prefix + "leads",
			opportunities: prefix + "opportunities",
			syncLog:       prefix + "sync_log",
		},
		opTimeout: timeout,
		openDB:    sql.Open,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate creates the schema if it does not exist yet.
func (s *sqlStore) Migrate(ctx context.Context) error {
	return s.ensureReady(ctx)
}

func (s *sqlStore) ensureReady(ctx context.Context) error {
	if s == nil {
		return crm.ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("open %s store: %w", s.dialect.name, err)
			return
		}
		if s.dialect.maxOpenConns > 0 {
			db.SetMaxOpenConns(s.dialect.maxOpenConns)
		}
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
		defer cancel()
		for _, stmt := range s.schema() {
			if _, err := db.ExecContext(opCtx, stmt); err != nil {
				_ = db.Close()
				s.initErr = fmt.Errorf("create %s schema: %w", s.dialect.name, err)
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *sqlStore) schema() []string {
	d := s.dialect
	leadCols := make([]string, 0, len(leadWriteColumns))
	for _, col := range leadWriteColumns {
		leadCols = append(leadCols, col+" "+leadColumnType(d, col))
	}
	oppCols := make([]string, 0, len(opportunityColumns))
	for _, col := range opportunityColumns {
		oppCols = append(oppCols, col+" "+opportunityColumnType(d, col))
	}
	leads := quoteIdentifier(s.tables.leads)
	opps := quoteIdentifier(s.tables.opportunities)
	syncLog := quoteIdentifier(s.tables.syncLog)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s PRIMARY KEY,
			%s,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, leads, d.idType, strings.Join(leadCols, ",\n\t\t\t"), d.timeType, d.timeType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (full_name_key)`,
			quoteIdentifier(s.tables.leads+"_full_name_key_idx"), leads),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s PRIMARY KEY,
			%s,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, opps, d.idType, strings.Join(oppCols, ",\n\t\t\t"), d.timeType, d.timeType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (lead_id)`,
			quoteIdentifier(s.tables.opportunities+"_lead_id_idx"), opps),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s PRIMARY KEY,
			platform TEXT NOT NULL,
			status TEXT NOT NULL,
			rows_synced INTEGER NOT NULL DEFAULT 0,
			date_range_start TEXT,
			date_range_end TEXT,
			error_message TEXT,
			created_at %s NOT NULL
		)`, syncLog, d.idType, d.timeType),
	}
}

func (s *sqlStore) UpsertLead(ctx context.Context, lead *crm.Lead) error {
	if lead == nil || lead.DynamicsID == "" {
		return crm.ErrInvalidInput
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := s.dialect.timeArg(s.now())
	args := append([]any{uuid.NewString()}, leadArgs(lead)...)
	args = append(args, now, now)
	query := s.upsertQuery(s.tables.leads, leadWriteColumns)
	var id string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return fmt.Errorf("upsert lead %s: %w", lead.DynamicsID, err)
	}
	lead.ID = id
	return nil
}

func (s *sqlStore) UpsertOpportunity(ctx context.Context, opp *crm.Opportunity) error {
	if opp == nil || opp.DynamicsID == "" {
		return crm.ErrInvalidInput
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := s.dialect.timeArg(s.now())
	args := append([]any{uuid.NewString()}, opportunityArgs(opp)...)
	args = append(args, now, now)
	query := s.upsertQuery(s.tables.opportunities, opportunityColumns)
	var id string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return fmt.Errorf("upsert opportunity %s: %w", opp.DynamicsID, err)
	}
	opp.ID = id
	return nil
}

// upsertQuery builds an insert that replaces every mapped column on a
// dynamics_id conflict while keeping id and created_at.
func (s *sqlStore) upsertQuery(table string, columns []string) string {
	all := append([]string{"id"}, columns...)
	all = append(all, "created_at", "updated_at")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if col == "dynamics_id" {
			continue
		}
		updates = append(updates, col+" = EXCLUDED."+col)
	}
	updates = append(updates, "updated_at = EXCLUDED.updated_at")
	return s.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (%s)
		ON CONFLICT (dynamics_id)
		DO UPDATE SET %s
		RETURNING id`,
		quoteIdentifier(table), strings.Join(all, ", "), placeholders, strings.Join(updates, ", ")))
}

func (s *sqlStore) FindLeadByDynamicsID(ctx context.Context, dynamicsID string) (crm.Lead, error) {
	if err := s.ensureReady(ctx); err != nil {
		return crm.Lead{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	query := s.dialect.rebind(fmt.Sprintf("SELECT id, %s FROM %s WHERE dynamics_id = ?",
		strings.Join(leadColumns, ", "), quoteIdentifier(s.tables.leads)))
	var lead crm.Lead
	err := s.db.QueryRowContext(ctx, query, dynamicsID).Scan(leadScanDest(&lead)...)
	if errors.Is(err, sql.ErrNoRows) {
		return crm.Lead{}, crm.ErrNotFound
	}
	if err != nil {
		return crm.Lead{}, fmt.Errorf("find lead %s: %w", dynamicsID, err)
	}
	return lead, nil
}

func (s *sqlStore) FindLeadsByFullName(ctx context.Context, fullName string) ([]crm.Lead, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	query := s.dialect.rebind(fmt.Sprintf(
		"SELECT id, %s FROM %s WHERE full_name_key = ? ORDER BY created_at ASC, id ASC LIMIT %d",
		strings.Join(leadColumns, ", "), quoteIdentifier(s.tables.leads), nameMatchLimit))
	rows, err := s.db.QueryContext(ctx, query, foldName(fullName))
	if err != nil {
		return nil, fmt.Errorf("find leads by name: %w", err)
	}
	defer rows.Close()
	var leads []crm.Lead
	for rows.Next() {
		var lead crm.Lead
		if err := rows.Scan(leadScanDest(&lead)...); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func (s *sqlStore) AppendSyncLog(ctx context.Context, entry *crm.SyncLogEntry) error {
	if entry == nil {
		return crm.ErrInvalidInput
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	query := s.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s (id, platform, status, rows_synced, date_range_start, date_range_end, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, quoteIdentifier(s.tables.syncLog)))
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Platform,
		string(entry.Status),
		entry.RowsSynced,
		nullString(entry.DateRangeStart),
		nullString(entry.DateRangeEnd),
		nullString(entry.ErrorMessage),
		s.dialect.timeArg(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

func (s *sqlStore) ListSyncLog(ctx context.Context, limit int) ([]crm.SyncLogEntry, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if limit <= 0 {
		limit = defaultSyncLogLimit
	}

	query := s.dialect.rebind(fmt.Sprintf(`
		SELECT id, platform, status, rows_synced, date_range_start, date_range_end, error_message, created_at
		FROM %s
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, quoteIdentifier(s.tables.syncLog)))
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync log: %w", err)
	}
	defer rows.Close()
	var entries []crm.SyncLogEntry
	for rows.Next() {
		var (
			entry     crm.SyncLogEntry
			status    string
			createdAt any
		)
		if err := rows.Scan(&entry.ID, &entry.Platform, &status, &entry.RowsSynced,
			&entry.DateRangeStart, &entry.DateRangeEnd, &entry.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		entry.Status = crm.SyncStatus(status)
		if entry.CreatedAt, err = parseStoredTime(createdAt); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
