// Package postgres implements ports.FlowStore on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/domain"
	_ "github.com/lib/pq" // registers the "postgres" driver
)

// activationLockKey serializes activations across replicas through pg_advisory_xact_lock.
const activationLockKey int64 = 0x63686174666c6f77

// document is the JSONB body of a row. Metadata lives in its own columns.
type document struct {
	Nodes       []domain.Node       `json:"nodes"`
	Connections []domain.Connection `json:"connections"`
}

// FlowStore implements ports.FlowStore using a single flows table.
type FlowStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the FlowStore.
type Option func(*FlowStore)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FlowStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New connects to databaseURL, verifies the connection and runs the migrations.
func New(ctx context.Context, databaseURL string, opts ...Option) (*FlowStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewFromDB(db, opts...)
	if err := NewMigrationManager(s.logger, db, migrations()).RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// NewFromDB wraps an existing, already migrated connection pool.
func NewFromDB(db *sql.DB, opts ...Option) *FlowStore {
	s := &FlowStore{
		db:     db,
		logger: logging.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the connection pool.
func (s *FlowStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *FlowStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (s *FlowStore) List(ctx context.Context) ([]domain.FlowSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version, active, updated_at
		FROM flows
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.FlowSummary
	for rows.Next() {
		var f domain.FlowSummary
		if err := rows.Scan(&f.ID, &f.Name, &f.Version, &f.Active, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flows: %w", err)
	}
	return out, nil
}

func (s *FlowStore) Get(ctx context.Context, id string) (*domain.Flow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, version, active, document, created_at, updated_at
		FROM flows
		WHERE id = $1`, id)
	f, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrFlowNotFound
	}
	return f, err
}

func (s *FlowStore) Save(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	body, err := json.Marshal(document{Nodes: flow.Nodes, Connections: flow.Connections})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow %s: %w", flow.ID, err)
	}

	stored := flow.Clone()
	now := s.now()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO flows (id, name, version, active, document, created_at, updated_at)
		VALUES ($1, $2, 1, FALSE, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			version = flows.version + 1,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
		RETURNING version, active, created_at, updated_at`,
		flow.ID, flow.Name, body, now,
	).Scan(&stored.Version, &stored.Active, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save flow %s: %w", flow.ID, err)
	}
	return stored, nil
}

// Delete removes an inactive flow. The active row returns domain.ErrFlowInUse.
func (s *FlowStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM flows WHERE id = $1 AND NOT active", id)
	if err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var active bool
	err = s.db.QueryRowContext(ctx, "SELECT active FROM flows WHERE id = $1", id).Scan(&active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrFlowNotFound
	case err != nil:
		return fmt.Errorf("failed to look up flow %s: %w", id, err)
	case active:
		return domain.ErrFlowInUse
	default:
		// Active during the delete, deactivated before the lookup.
		return fmt.Errorf("failed to delete flow %s: concurrent activation", id)
	}
}

// Activate flips the active flag inside one transaction guarded by an advisory lock,
// so concurrent activations from any replica are applied one after the other.
func (s *FlowStore) Activate(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin activation of %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", activationLockKey); err != nil {
		return fmt.Errorf("failed to lock activation: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM flows WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up flow %s: %w", id, err)
	}
	if !exists {
		return domain.ErrFlowNotFound
	}

	if _, err := tx.ExecContext(ctx, "UPDATE flows SET active = FALSE WHERE active AND id <> $1", id); err != nil {
		return fmt.Errorf("failed to deactivate previous flow: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE flows SET active = TRUE WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to activate flow %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation of %s: %w", id, err)
	}

	s.logger.Debug("Flow activated", "flow_id", id)
	return nil
}

func (s *FlowStore) Active(ctx context.Context) (*domain.Flow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, version, active, document, created_at, updated_at
		FROM flows
		WHERE active`)
	f, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoActiveFlow
	}
	return f, err
}

func scanFlow(row *sql.Row) (*domain.Flow, error) {
	var (
		f    domain.Flow
		body []byte
	)
	if err := row.Scan(&f.ID, &f.Name, &f.Version, &f.Active, &body, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode flow %s: %w", f.ID, err)
	}
	f.Nodes = doc.Nodes
	f.Connections = doc.Connections
	return &f, nil
}
