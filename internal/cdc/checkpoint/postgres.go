package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/janovincze/philotes-ibmi/internal/cdc"
	"github.com/janovincze/philotes-ibmi/internal/journal"
)

// PostgresManager implements checkpoint persistence using PostgreSQL.
//
// The journal offset is stored as decimal text because sequence numbers use
// the full unsigned 64-bit range, which BIGINT cannot hold.
type PostgresManager struct {
	db     *sql.DB
	logger *slog.Logger
}

// PostgresConfig holds configuration for the PostgreSQL checkpoint manager.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
}

// NewPostgresManager creates a new PostgreSQL checkpoint manager.
func NewPostgresManager(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresManager, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresManager{
		db:     db,
		logger: logger.With("component", "checkpoint-manager"),
	}, nil
}

// DB returns the manager's connection pool.
func (m *PostgresManager) DB() *sql.DB {
	return m.db
}

// Save persists a checkpoint to the database.
func (m *PostgresManager) Save(ctx context.Context, checkpoint cdc.Checkpoint) error {
	var metadataJSON []byte
	var err error
	if checkpoint.Metadata != nil {
		metadataJSON, err = json.Marshal(checkpoint.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO philotes_ibmi.cdc_checkpoints (
			source_id, sequence_number, receiver_name, receiver_library,
			entry_time, processed, committed_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id)
		DO UPDATE SET
			sequence_number = EXCLUDED.sequence_number,
			receiver_name = EXCLUDED.receiver_name,
			receiver_library = EXCLUDED.receiver_library,
			entry_time = EXCLUDED.entry_time,
			processed = EXCLUDED.processed,
			committed_at = EXCLUDED.committed_at,
			metadata = EXCLUDED.metadata
	`

	committedAt := checkpoint.CommittedAt
	if committedAt.IsZero() {
		committedAt = time.Now()
	}

	var entryTime sql.NullTime
	if !checkpoint.EntryTime.IsZero() {
		entryTime = sql.NullTime{Time: checkpoint.EntryTime, Valid: true}
	}

	_, err = m.db.ExecContext(ctx, query,
		checkpoint.SourceID,
		checkpoint.Offset.String(),
		checkpoint.ReceiverName,
		checkpoint.ReceiverLibrary,
		entryTime,
		checkpoint.Processed,
		committedAt,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint saved",
		"source_id", checkpoint.SourceID,
		"position", checkpoint.Position().String(),
	)

	return nil
}

// Load retrieves the latest checkpoint for a source.
func (m *PostgresManager) Load(ctx context.Context, sourceID string) (*cdc.Checkpoint, error) {
	query := `
		SELECT source_id, sequence_number, receiver_name, receiver_library,
		       entry_time, processed, committed_at, metadata
		FROM philotes_ibmi.cdc_checkpoints
		WHERE source_id = $1
	`

	var checkpoint cdc.Checkpoint
	var sequence string
	var entryTime sql.NullTime
	var metadataJSON []byte

	err := m.db.QueryRowContext(ctx, query, sourceID).Scan(
		&checkpoint.SourceID,
		&sequence,
		&checkpoint.ReceiverName,
		&checkpoint.ReceiverLibrary,
		&entryTime,
		&checkpoint.Processed,
		&checkpoint.CommittedAt,
		&metadataJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	checkpoint.Offset, err = journal.ParseOffset(sequence)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", sourceID, err)
	}
	if entryTime.Valid {
		checkpoint.EntryTime = entryTime.Time
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &checkpoint.Metadata); err != nil {
			m.logger.Warn("failed to unmarshal checkpoint metadata", "error", err)
		}
	}

	m.logger.Debug("checkpoint loaded",
		"source_id", checkpoint.SourceID,
		"position", checkpoint.Position().String(),
	)

	return &checkpoint, nil
}

// Delete removes a checkpoint for a source.
func (m *PostgresManager) Delete(ctx context.Context, sourceID string) error {
	query := `DELETE FROM philotes_ibmi.cdc_checkpoints WHERE source_id = $1`

	_, err := m.db.ExecContext(ctx, query, sourceID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint deleted", "source_id", sourceID)

	return nil
}

// Close closes the database connection.
func (m *PostgresManager) Close() error {
	return m.db.Close()
}

// Ensure PostgresManager implements Manager interface.
var _ Manager = (*PostgresManager)(nil)
