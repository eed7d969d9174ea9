// Package sqlstore implements repository.Store on database/sql. Jobs and
// technicians are stored as JSON documents with a few indexed columns;
// SQLite (modernc.org/sqlite) and PostgreSQL (pgx) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/okian/repairflow/internal/adapters/repository"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/pkg/logger"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Dialect selects SQL flavour and driver.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ErrUnsupportedDialect is returned by Open for unknown drivers.
var ErrUnsupportedDialect = errors.New("unsupported sql dialect")

// Config holds database connection configuration.
type Config struct {
	Dialect         Dialect
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	version BIGINT NOT NULL,
	state TEXT NOT NULL,
	assigned_technician_id TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_state_idx ON jobs (state);
CREATE TABLE IF NOT EXISTS technicians (
	id TEXT PRIMARY KEY,
	body TEXT NOT NULL
);`

// Store is a SQL-backed repository.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	closeFn func()
	log     logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for rollback failures and lifecycle events.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l.Named("sqlstore")
		}
	}
}

// Open connects according to cfg and creates the schema.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	switch cfg.Dialect {
	case DialectSQLite:
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows one writer; a single connection serializes transactions.
		db.SetMaxOpenConns(1)
		s, err := New(ctx, db, DialectSQLite, opts...)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.log.Info(ctx, "opened sqlite store", logger.String("dsn", cfg.DSN))
		return s, nil

	case DialectPostgres:
		pc, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		if cfg.MaxConns > 0 {
			pc.MaxConns = cfg.MaxConns
		}
		if cfg.MinConns > 0 {
			pc.MinConns = cfg.MinConns
		}
		if cfg.MaxConnLifetime > 0 {
			pc.MaxConnLifetime = cfg.MaxConnLifetime
		}
		if cfg.MaxConnIdleTime > 0 {
			pc.MaxConnIdleTime = cfg.MaxConnIdleTime
		}
		pc.ConnConfig.RuntimeParams["application_name"] = "repairflow"

		dialCtx := ctx
		if cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
			defer cancel()
		}
		pool, err := pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		db := stdlib.OpenDBFromPool(pool)
		s, err := New(ctx, db, DialectPostgres, opts...)
		if err != nil {
			_ = db.Close()
			pool.Close()
			return nil, err
		}
		s.closeFn = pool.Close
		s.log.Info(ctx, "opened postgres store")
		return s, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, cfg.Dialect)
	}
}

// New wraps an open database and creates the schema.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{db: db, dialect: dialect, log: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return s, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database and any pool behind it.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.closeFn != nil {
		s.closeFn()
	}
	return err
}

// rebind rewrites '?' placeholders for PostgreSQL.
func (s *Store) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
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

func (s *Store) forUpdate() string {
	if s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn(ctx, "rollback failed", logger.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	job.Version = 1
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO jobs (id, version, state, assigned_technician_id, body) VALUES (?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
		job.ID, job.Version, string(job.State), job.AssignedTechnicianID, string(body))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s", repository.ErrDuplicate, job.ID)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM jobs WHERE id = ?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	return decodeJob(body)
}

func (s *Store) SaveJob(ctx context.Context, job *model.Job) error {
	next := job.Clone()
	next.Version = job.Version + 1
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE jobs SET version = ?, state = ?, assigned_technician_id = ?, body = ? WHERE id = ? AND version = ?`),
		next.Version, string(next.State), next.AssignedTechnicianID, string(body), job.ID, job.Version)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM jobs WHERE id = ?`), job.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: job %s", repository.ErrNotFound, job.ID)
		}
		return fmt.Errorf("%w: job %s at version %d", repository.ErrConflict, job.ID, job.Version)
	}
	job.Version = next.Version
	return nil
}

func (s *Store) ListJobs(ctx context.Context, filter repository.JobFilter) ([]*model.Job, error) {
	q := `SELECT body FROM jobs`
	var where []string
	var args []any
	if filter.OpenOnly {
		where = append(where, `state NOT IN (?, ?)`)
		args = append(args, string(model.StateDelivered), string(model.StateEscalated))
	}
	if filter.Unassigned {
		where = append(where, `assigned_technician_id = ''`)
	}
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j, err := decodeJob(body)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) UpsertTechnician(ctx context.Context, tech *model.Technician) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		next := tech.Clone()
		cur, err := s.loadTechnician(ctx, tx, tech.ID)
		switch {
		case err == nil:
			next.ActiveJobCount = cur.ActiveJobCount
			next.CompletedJobs = cur.CompletedJobs
			next.PerformanceScore = cur.PerformanceScore
			next.Commitments = cur.Commitments
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		return s.writeTechnician(ctx, tx, next)
	})
}

func (s *Store) GetTechnician(ctx context.Context, id string) (*model.Technician, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM technicians WHERE id = ?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: technician %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select technician: %w", err)
	}
	return decodeTechnician(body)
}

func (s *Store) ListTechnicians(ctx context.Context, filter repository.TechnicianFilter) ([]*model.Technician, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM technicians ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list technicians: %w", err)
	}
	defer rows.Close()

	var out []*model.Technician
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan technician: %w", err)
		}
		t, err := decodeTechnician(body)
		if err != nil {
			return nil, err
		}
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

func (s *Store) AdjustActiveJobs(ctx context.Context, adjustments ...repository.Adjustment) error {
	// Rows are locked in id order so concurrent batches cannot deadlock.
	ids := make([]string, 0, len(adjustments))
	seen := make(map[string]bool, len(adjustments))
	for _, a := range adjustments {
		if !seen[a.TechnicianID] {
			seen[a.TechnicianID] = true
			ids = append(ids, a.TechnicianID)
		}
	}
	sort.Strings(ids)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		techs := make(map[string]*model.Technician, len(ids))
		for _, id := range ids {
			t, err := s.loadTechnician(ctx, tx, id)
			if err != nil {
				return err
			}
			techs[id] = t
		}
		for _, a := range adjustments {
			repository.ApplyAdjustment(techs[a.TechnicianID], a)
		}
		for _, id := range ids {
			if err := s.writeTechnician(ctx, tx, techs[id]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) RecordOutcome(ctx context.Context, technicianID, jobID string, score float64) (*model.Technician, error) {
	var out *model.Technician
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := s.loadTechnician(ctx, tx, technicianID)
		if err != nil {
			return err
		}
		repository.ApplyOutcome(t, jobID, score)
		out = t
		return s.writeTechnician(ctx, tx, t)
	})
	return out, err
}

func (s *Store) loadTechnician(ctx context.Context, tx *sql.Tx, id string) (*model.Technician, error) {
	var body string
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT body FROM technicians WHERE id = ?`+s.forUpdate()), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: technician %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select technician: %w", err)
	}
	return decodeTechnician(body)
}

func (s *Store) writeTechnician(ctx context.Context, tx *sql.Tx, t *model.Technician) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode technician: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO technicians (id, body) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET body = excluded.body`),
		t.ID, string(body))
	if err != nil {
		return fmt.Errorf("write technician: %w", err)
	}
	return nil
}

func decodeJob(body string) (*model.Job, error) {
	var j model.Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}

func decodeTechnician(body string) (*model.Technician, error) {
	var t model.Technician
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("decode technician: %w", err)
	}
	return &t, nil
}

var _ repository.Store = (*Store)(nil)
