package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
)

type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Create creates a new provision log entry
func (r *LogRepository) Create(ctx context.Context, logEntry *models.ProvisionLog) error {
	if logEntry.ID == "" {
		logEntry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO provisioning.provision_logs (id, account_id, action, status, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		logEntry.ID, logEntry.AccountID, logEntry.Action, logEntry.Status, logEntry.Message, logEntry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert provision log: %w", err)
	}

	return nil
}

// ListByAccount retrieves logs for one account
func (r *LogRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.ProvisionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, account_id, action, status, message, metadata, created_at
		FROM provisioning.provision_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query provision logs: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListRecent retrieves the latest log entries across all accounts
func (r *LogRepository) ListRecent(ctx context.Context, limit int) ([]*models.ProvisionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, account_id, action, status, message, metadata, created_at
		FROM provisioning.provision_logs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent provision logs: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// LogAction is a helper to log an action
func (r *LogRepository) LogAction(ctx context.Context, accountID, action, status, message string) error {
	logEntry := &models.ProvisionLog{
		AccountID: accountID,
		Action:    action,
		Status:    status,
		Message:   message,
	}
	return r.Create(ctx, logEntry)
}

// LogActionWithMetadata is a helper to log an action with metadata
func (r *LogRepository) LogActionWithMetadata(ctx context.Context, accountID, action, status, message string, metadata map[string]interface{}) error {
	logEntry := &models.ProvisionLog{
		AccountID: accountID,
		Action:    action,
		Status:    status,
		Message:   message,
		Metadata:  metadata,
	}
	return r.Create(ctx, logEntry)
}

func (r *LogRepository) scanMany(rows pgx.Rows) ([]*models.ProvisionLog, error) {
	var logEntries []*models.ProvisionLog
	for rows.Next() {
		logEntry := &models.ProvisionLog{}
		err := rows.Scan(
			&logEntry.ID, &logEntry.AccountID, &logEntry.Action, &logEntry.Status,
			&logEntry.Message, &logEntry.Metadata, &logEntry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan provision log: %w", err)
		}
		logEntries = append(logEntries, logEntry)
	}
	return logEntries, rows.Err()
}
