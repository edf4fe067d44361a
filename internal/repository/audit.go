package repository

import (
	"context"
	"fmt"

	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/emergo/incident_dispatch_service/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// recordAudit вставляет одну запись журнала в транзакции вызывающей стороны.
// Журнал append-only: запись появляется атомарно вместе с самим изменением
func recordAudit(ctx context.Context, tx pgx.Tx, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (user_id, action, table_name, record_id, old_data, new_data)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := tx.Exec(ctx, query,
		entry.UserID,
		entry.Action,
		entry.TableName,
		entry.RecordID,
		[]byte(entry.OldData),
		[]byte(entry.NewData),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) service.AuditRepository {
	return &AuditRepository{
		db: db,
	}
}

// ListRecent возвращает последние записи журнала
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, user_id, action, table_name, record_id, old_data, new_data, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1;
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ListByRecord возвращает всю историю изменений одной записи
func (r *AuditRepository) ListByRecord(ctx context.Context, tableName, recordID string) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, user_id, action, table_name, record_id, old_data, new_data, created_at
		FROM audit_logs
		WHERE table_name = $1 AND record_id = $2
		ORDER BY created_at, id;
	`
	rows, err := r.db.Query(ctx, query, tableName, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries by record: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func scanAuditRows(rows pgx.Rows) ([]*models.AuditLogEntry, error) {
	entries := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		entry := &models.AuditLogEntry{}
		var oldData, newData []byte
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Action,
			&entry.TableName,
			&entry.RecordID,
			&oldData,
			&newData,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entry.OldData = oldData
		entry.NewData = newData
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error audit list iteration: %w", err)
	}
	return entries, nil
}
