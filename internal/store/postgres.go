package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"cortex-gateway/internal/models"
)

// Store wraps pgxpool for Postgres persistence. One Store is created per
// process and shared by every request.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, pc PoolConfig, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(pc.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 && pc.MinConns <= cfg.MaxConns {
		cfg.MinConns = pc.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

const jobColumns = `id, queue_name, gmail_id, payload, status, attempts, priority, batch_id::text, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (models.QueueJob, error) {
	var (
		job         models.QueueJob
		payloadJSON []byte
		status      string
		gmailID     pgtype.Text
		batchID     pgtype.Text
		lastErr     pgtype.Text
	)
	if err := row.Scan(&job.ID, &job.QueueName, &gmailID, &payloadJSON, &status, &job.Attempts, &job.Priority, &batchID, &lastErr, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.QueueJob{}, err
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return models.QueueJob{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	job.Status = models.JobStatus(status)
	job.GmailID = textPtr(gmailID)
	job.BatchID = textPtr(batchID)
	job.LastError = textPtr(lastErr)
	return job, nil
}

// classify wraps a driver error with the taxonomy kind callers switch on.
// The original error stays in the chain for logs but never reaches clients.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
		return fmt.Errorf("%s: %w: %w", op, models.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case isDuplicateKey(err):
		return fmt.Errorf("%s: %w: %w", op, models.ErrConflict, err)
	case isUnavailable(err):
		return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception, 53: insufficient resources, 57P: operator intervention
		switch pgErr.Code[:2] {
		case "08", "53":
			return true
		}
		return pgErr.Code == "57P01" || pgErr.Code == "57P03"
	}
	return pgconn.SafeToRetry(err)
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
