// Package pgkv is a secondary, optional write-behind audit sink for
// command-audit records (§3, §4.Q), mirroring the teacher's all-Postgres
// persistence layer even though the primary KV store here is Redis.
// Migrations follow _examples/txn2-mcp-data-platform's golang-migrate
// pattern: embedded SQL applied with the postgres driver.
package pgkv

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

// AuditSink persists command audit records (§3 "Command audit record")
// to Postgres as a best-effort secondary trail; failures here are
// logged and ignored per §7's "KV / bus degraded" rule — the primary
// audit record always lives in the KV store first.
type AuditSink struct {
	pool *pgxpool.Pool
}

// Record mirrors §3's audit state machine: Sent -> {Accepted|Rejected|Failed|Timeout}.
type Record struct {
	CommandID     string
	MessageID     string
	ChargePointID string
	CommandType   string
	State         string
	Detail        string
}

// Migrate applies pending migrations using a plain database/sql
// connection (lib/pq), following the teacher repo's pattern of a
// dedicated migration step separate from the pgxpool used for queries.
func Migrate(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running command_audit migrations: %w", err)
	}
	logrus.Info("command_audit migrations complete")
	return nil
}

// New opens the pgxpool used for audit writes; call Migrate first.
func New(ctx context.Context, dsn string) (*AuditSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	return &AuditSink{pool: pool}, nil
}

// Close releases the connection pool.
func (s *AuditSink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Write upserts the audit record. Callers treat errors as non-fatal.
func (s *AuditSink) Write(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO command_audit (command_id, message_id, charge_point_id, command_type, state, detail, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (command_id) DO UPDATE SET
			state = $5,
			detail = $6,
			updated_at = $7
	`
	_, err := s.pool.Exec(ctx, query, rec.CommandID, rec.MessageID, rec.ChargePointID, rec.CommandType, rec.State, rec.Detail, time.Now())
	return err
}
