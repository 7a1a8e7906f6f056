package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/metrics"
)

// PostgresManager implements Manager using PostgreSQL.
type PostgresManager struct {
	db        *sql.DB
	logger    *slog.Logger
	retention time.Duration
}

// PostgresConfig holds configuration for the PostgreSQL DLQ manager.
type PostgresConfig struct {
	// Retention is how long to keep entries in the DLQ.
	Retention time.Duration
}

// DefaultPostgresConfig returns a PostgresConfig with sensible defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Retention: 7 * 24 * time.Hour,
	}
}

// NewPostgresManager creates a new PostgreSQL-backed DLQ manager. The
// database handle is owned by the caller.
func NewPostgresManager(db *sql.DB, cfg PostgresConfig, logger *slog.Logger) *PostgresManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresManager{
		db:        db,
		logger:    logger.With("component", "dlq-manager"),
		retention: cfg.Retention,
	}
}

// Retention returns how long entries are kept.
func (m *PostgresManager) Retention() time.Duration {
	return m.retention
}

const selectColumns = `
	SELECT id, source_id, schema_name, table_name, entry_type,
	       sequence_number, receiver_name, receiver_library,
	       entry_data, raw_entry, error_message, error_type, retry_count,
	       created_at, last_retry_at, expires_at
	FROM philotes_ibmi.dead_letter_entries
`

// Write adds a failed entry to the dead-letter queue.
func (m *PostgresManager) Write(ctx context.Context, entry FailedEntry) error {
	query := `
		INSERT INTO philotes_ibmi.dead_letter_entries (
			source_id, schema_name, table_name, entry_type,
			sequence_number, receiver_name, receiver_library,
			entry_data, raw_entry, error_message, error_type, retry_count,
			created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`

	var id int64
	err := m.db.QueryRowContext(ctx, query,
		entry.SourceID,
		entry.SchemaName,
		entry.TableName,
		entry.EntryType,
		entry.Position.Offset.String(),
		entry.Position.Receiver.Name,
		entry.Position.Receiver.Library,
		[]byte(entry.EntryData),
		entry.RawEntry,
		entry.ErrorMessage,
		string(entry.ErrorType),
		entry.RetryCount,
		entry.CreatedAt,
		entry.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert dead letter entry: %w", err)
	}

	metrics.BufferDLQTotal.WithLabelValues(entry.SourceID).Inc()
	m.logger.Debug("entry added to DLQ",
		"id", id,
		"source_id", entry.SourceID,
		"position", entry.Position.String(),
		"error_type", entry.ErrorType,
	)

	return nil
}

// Read retrieves failed entries in the order they were added.
func (m *PostgresManager) Read(ctx context.Context, limit int) ([]FailedEntry, error) {
	query := selectColumns + `
		ORDER BY created_at ASC
		LIMIT $1
	`
	return m.queryEntries(ctx, query, limit)
}

// ReadBySource retrieves failed entries of one source.
func (m *PostgresManager) ReadBySource(ctx context.Context, sourceID string, limit int) ([]FailedEntry, error) {
	query := selectColumns + `
		WHERE source_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	return m.queryEntries(ctx, query, sourceID, limit)
}

// ReadByTable retrieves failed entries of one table.
func (m *PostgresManager) ReadByTable(ctx context.Context, schemaName, tableName string, limit int) ([]FailedEntry, error) {
	query := selectColumns + `
		WHERE schema_name = $1 AND table_name = $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	return m.queryEntries(ctx, query, schemaName, tableName, limit)
}

func (m *PostgresManager) queryEntries(ctx context.Context, query string, args ...any) ([]FailedEntry, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead letter entries: %w", err)
	}
	defer rows.Close()

	var entries []FailedEntry
	for rows.Next() {
		var entry FailedEntry
		var sequence, receiverName, receiverLibrary string
		var errorType sql.NullString
		var lastRetryAt sql.NullTime
		var expiresAt sql.NullTime

		err := rows.Scan(
			&entry.ID,
			&entry.SourceID,
			&entry.SchemaName,
			&entry.TableName,
			&entry.EntryType,
			&sequence,
			&receiverName,
			&receiverLibrary,
			&entry.EntryData,
			&entry.RawEntry,
			&entry.ErrorMessage,
			&errorType,
			&entry.RetryCount,
			&entry.CreatedAt,
			&lastRetryAt,
			&expiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter entry: %w", err)
		}

		offset, err := journal.ParseOffset(sequence)
		if err != nil {
			return nil, fmt.Errorf("dead letter entry %d: %w", entry.ID, err)
		}
		entry.Position = journal.Position{
			Offset:   offset,
			Receiver: journal.NewReceiver(receiverName, receiverLibrary),
		}
		if errorType.Valid {
			entry.ErrorType = ErrorType(errorType.String)
		}
		if lastRetryAt.Valid {
			entry.LastRetryAt = &lastRetryAt.Time
		}
		if expiresAt.Valid {
			entry.ExpiresAt = &expiresAt.Time
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letter entries: %w", err)
	}

	return entries, nil
}

// MarkRetried updates the retry count and last retry time.
func (m *PostgresManager) MarkRetried(ctx context.Context, id int64) error {
	query := `
		UPDATE philotes_ibmi.dead_letter_entries
		SET retry_count = retry_count + 1, last_retry_at = $2
		WHERE id = $1
	`

	result, err := m.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("mark entry retried: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	return nil
}

// Delete removes entries from the dead-letter queue.
func (m *PostgresManager) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `DELETE FROM philotes_ibmi.dead_letter_entries WHERE id = ANY($1)`

	result, err := m.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete dead letter entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %v", ErrNotFound, ids)
	}

	m.logger.Debug("entries deleted from DLQ", "count", rowsAffected)
	return nil
}

// Cleanup removes expired entries from the dead-letter queue.
func (m *PostgresManager) Cleanup(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM philotes_ibmi.dead_letter_entries
		WHERE expires_at IS NOT NULL AND expires_at < $1
	`

	result, err := m.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		m.logger.Info("cleaned up expired DLQ entries", "count", rowsAffected)
	}

	return rowsAffected, nil
}

// Count returns the number of entries in the dead-letter queue.
func (m *PostgresManager) Count(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM philotes_ibmi.dead_letter_entries`

	var count int64
	if err := m.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count dead letter entries: %w", err)
	}

	return count, nil
}

// Close releases any resources held by the manager.
func (m *PostgresManager) Close() error {
	return nil
}

// GetStats returns statistics about the dead-letter queue.
func (m *PostgresManager) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		BySource:    make(map[string]int64),
		ByErrorType: make(map[ErrorType]int64),
	}

	query := `
		SELECT source_id, COALESCE(error_type, ''), COUNT(*), MIN(created_at), MAX(created_at)
		FROM philotes_ibmi.dead_letter_entries
		GROUP BY source_id, error_type
	`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return stats, fmt.Errorf("query dead letter stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceID, errorType string
		var count int64
		var oldest, newest time.Time
		if err := rows.Scan(&sourceID, &errorType, &count, &oldest, &newest); err != nil {
			return stats, fmt.Errorf("scan dead letter stats: %w", err)
		}

		stats.TotalCount += count
		stats.BySource[sourceID] += count
		if errorType != "" {
			stats.ByErrorType[ErrorType(errorType)] += count
		}
		if stats.OldestEntry == nil || oldest.Before(*stats.OldestEntry) {
			stats.OldestEntry = &oldest
		}
		if stats.NewestEntry == nil || newest.After(*stats.NewestEntry) {
			stats.NewestEntry = &newest
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate dead letter stats: %w", err)
	}

	return stats, nil
}

// Ensure PostgresManager implements Manager.
var _ Manager = (*PostgresManager)(nil)
