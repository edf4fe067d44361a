package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/emergo/incident_dispatch_service/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const unitColumns = `
	id,
	name,
	type,
	status,
	latitude,
	longitude,
	created_at,
	updated_at`

type UnitRepository struct {
	db *pgxpool.Pool
}

func NewUnitRepository(db *pgxpool.Pool) service.UnitRepository {
	return &UnitRepository{
		db: db,
	}
}

// Create регистрирует экипаж и пишет аудит одной транзакцией
func (r *UnitRepository) Create(ctx context.Context, unit *models.Unit, actorID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin unit create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}

	query := `
		INSERT INTO units (id, name, type, status, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at;
	`
	err = tx.QueryRow(ctx, query,
		unit.ID,
		unit.Name,
		unit.Type,
		unit.Status,
		unit.Latitude,
		unit.Longitude,
	).Scan(&unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create unit: %w", err)
	}

	newData, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to marshal unit snapshot: %w", err)
	}
	entry := &models.AuditLogEntry{
		UserID:    actorID,
		Action:    models.AuditCreateUnit,
		TableName: "units",
		RecordID:  unit.ID.String(),
		NewData:   newData,
	}
	if err := recordAudit(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit unit create transaction: %w", err)
	}
	return nil
}

// GetByIDs возвращает экипажи по списку идентификаторов
func (r *UnitRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Unit, error) {
	query := `
		SELECT ` + unitColumns + `
		FROM units
		WHERE id = ANY($1)
		ORDER BY name;
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get units by ids: %w", err)
	}
	return scanUnitRows(rows)
}

// List возвращает все экипажи
func (r *UnitRepository) List(ctx context.Context) ([]*models.Unit, error) {
	query := `
		SELECT ` + unitColumns + `
		FROM units
		ORDER BY name;
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return scanUnitRows(rows)
}

// Release возвращает экипаж в available и деактивирует его активную отправку.
// Экипаж не в статусе dispatched - конфликт
func (r *UnitRepository) Release(ctx context.Context, id uuid.UUID, actorID string) (*models.Unit, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin unit release transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT ` + unitColumns + `
		FROM units
		WHERE id = $1
		FOR UPDATE;
	`
	unit, err := scanUnitRow(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUnitNotFound
		}
		return nil, fmt.Errorf("failed to lock unit for release: %w", err)
	}

	if unit.Status != models.UnitDispatched {
		return nil, models.ErrInvalidTransition
	}

	updateQuery := `
		UPDATE units SET
			status = 'available',
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at;
	`
	if err := tx.QueryRow(ctx, updateQuery, id).Scan(&unit.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to release unit: %w", err)
	}
	unit.Status = models.UnitAvailable

	deactivateQuery := `
		UPDATE dispatches SET
			active = FALSE
		WHERE unit_id = $1 AND active;
	`
	if _, err := tx.Exec(ctx, deactivateQuery, id); err != nil {
		return nil, fmt.Errorf("failed to deactivate dispatch: %w", err)
	}

	entry := &models.AuditLogEntry{
		UserID:    actorID,
		Action:    models.AuditReleaseUnit,
		TableName: "units",
		RecordID:  id.String(),
		OldData:   marshalSnapshot(map[string]any{"status": models.UnitDispatched}),
		NewData:   marshalSnapshot(map[string]any{"status": models.UnitAvailable}),
	}
	if err := recordAudit(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit unit release transaction: %w", err)
	}
	return unit, nil
}

func scanUnitRow(row pgx.Row) (*models.Unit, error) {
	unit := &models.Unit{}
	err := row.Scan(
		&unit.ID,
		&unit.Name,
		&unit.Type,
		&unit.Status,
		&unit.Latitude,
		&unit.Longitude,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return unit, nil
}

func scanUnitRows(rows pgx.Rows) ([]*models.Unit, error) {
	defer rows.Close()

	units := make([]*models.Unit, 0)
	for rows.Next() {
		unit, err := scanUnitRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit row: %w", err)
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error unit list iteration: %w", err)
	}
	return units, nil
}
