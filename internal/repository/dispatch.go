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

type DispatchRepository struct {
	db *pgxpool.Pool
}

func NewDispatchRepository(db *pgxpool.Pool) service.DispatchRepository {
	return &DispatchRepository{
		db: db,
	}
}

// Commit выполняет коммит отправки одной транзакцией: блокирует инцидент и
// экипажи, проверяет доступность, создает записи отправки, переводит экипажи
// в dispatched, инцидент в responding и пишет аудит по каждой затронутой
// записи. Любая недоступность или ошибка записи откатывает всё целиком
func (r *DispatchRepository) Commit(ctx context.Context, incidentID string, plans []*models.DispatchPlan, dispatcherID string) (*models.DispatchResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin dispatch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	incident, err := r.lockIncident(ctx, tx, incidentID)
	if err != nil {
		return nil, err
	}

	units, err := r.lockUnits(ctx, tx, plans)
	if err != nil {
		return nil, err
	}

	dispatches := make([]*models.Dispatch, 0, len(plans))
	unitIDs := make([]uuid.UUID, 0, len(plans))
	for _, plan := range plans {
		dispatch, err := r.insertDispatch(ctx, tx, incidentID, plan, dispatcherID)
		if err != nil {
			return nil, err
		}
		dispatches = append(dispatches, dispatch)
		unitIDs = append(unitIDs, plan.UnitID)

		if err := r.markDispatched(ctx, tx, units[plan.UnitID], dispatcherID); err != nil {
			return nil, err
		}
	}

	if err := r.markResponding(ctx, tx, incident, unitIDs, dispatcherID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit dispatch transaction: %w", err)
	}

	result := &models.DispatchResult{
		Incident:        incident,
		Dispatches:      dispatches,
		DispatchedCount: len(dispatches),
	}
	for _, plan := range plans {
		result.Units = append(result.Units, units[plan.UnitID])
	}
	return result, nil
}

// lockIncident блокирует строку инцидента и проверяет, что он открыт для отправки
func (r *DispatchRepository) lockIncident(ctx context.Context, tx pgx.Tx, incidentID string) (*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE id = $1
		FOR UPDATE;
	`
	incident, err := scanIncidentRow(tx.QueryRow(ctx, query, incidentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to lock incident for dispatch: %w", err)
	}

	if incident.Status == models.StatusResolved {
		return nil, models.ErrIncidentClosed
	}
	return incident, nil
}

// lockUnits блокирует экипажи в стабильном порядке и проверяет их доступность.
// ORDER BY id фиксирует порядок захвата блокировок между конкурентными коммитами
func (r *DispatchRepository) lockUnits(ctx context.Context, tx pgx.Tx, plans []*models.DispatchPlan) (map[uuid.UUID]*models.Unit, error) {
	ids := make([]uuid.UUID, 0, len(plans))
	for _, plan := range plans {
		ids = append(ids, plan.UnitID)
	}

	query := `
		SELECT ` + unitColumns + `
		FROM units
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE;
	`
	rows, err := tx.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock units for dispatch: %w", err)
	}
	units, err := scanUnitRows(rows)
	if err != nil {
		return nil, err
	}

	if len(units) != len(ids) {
		return nil, models.ErrUnitNotFound
	}

	byID := make(map[uuid.UUID]*models.Unit, len(units))
	for _, unit := range units {
		if unit.Status != models.UnitAvailable {
			return nil, fmt.Errorf("%w: %s", models.ErrUnitUnavailable, unit.ID)
		}
		byID[unit.ID] = unit
	}
	return byID, nil
}

func (r *DispatchRepository) insertDispatch(ctx context.Context, tx pgx.Tx, incidentID string, plan *models.DispatchPlan, dispatcherID string) (*models.Dispatch, error) {
	dispatch := &models.Dispatch{
		ID:           uuid.New(),
		IncidentID:   incidentID,
		UnitID:       plan.UnitID,
		DispatchedBy: dispatcherID,
		ETAMinutes:   plan.ETAMinutes,
		Route:        plan.Route,
		Active:       true,
	}

	routeJSON, err := json.Marshal(dispatch.Route)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal route: %w", err)
	}

	query := `
		INSERT INTO dispatches (id, incident_id, unit_id, dispatched_by, eta_minutes, route, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING created_at;
	`
	err = tx.QueryRow(ctx, query,
		dispatch.ID,
		dispatch.IncidentID,
		dispatch.UnitID,
		dispatch.DispatchedBy,
		dispatch.ETAMinutes,
		routeJSON,
	).Scan(&dispatch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert dispatch: %w", err)
	}

	newData, err := json.Marshal(dispatch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dispatch snapshot: %w", err)
	}
	entry := &models.AuditLogEntry{
		UserID:    dispatcherID,
		Action:    models.AuditDispatchUnit,
		TableName: "dispatches",
		RecordID:  dispatch.ID.String(),
		NewData:   newData,
	}
	if err := recordAudit(ctx, tx, entry); err != nil {
		return nil, err
	}
	return dispatch, nil
}

func (r *DispatchRepository) markDispatched(ctx context.Context, tx pgx.Tx, unit *models.Unit, dispatcherID string) error {
	query := `
		UPDATE units SET
			status = 'dispatched',
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at;
	`
	if err := tx.QueryRow(ctx, query, unit.ID).Scan(&unit.UpdatedAt); err != nil {
		return fmt.Errorf("failed to mark unit dispatched: %w", err)
	}

	oldStatus := unit.Status
	unit.Status = models.UnitDispatched

	entry := &models.AuditLogEntry{
		UserID:    dispatcherID,
		Action:    models.AuditDispatchUnit,
		TableName: "units",
		RecordID:  unit.ID.String(),
		OldData:   marshalSnapshot(map[string]any{"status": oldStatus}),
		NewData:   marshalSnapshot(map[string]any{"status": models.UnitDispatched}),
	}
	return recordAudit(ctx, tx, entry)
}

func (r *DispatchRepository) markResponding(ctx context.Context, tx pgx.Tx, incident *models.Incident, unitIDs []uuid.UUID, dispatcherID string) error {
	oldStatus := incident.Status

	query := `
		UPDATE incidents SET
			status = 'responding',
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at;
	`
	if err := tx.QueryRow(ctx, query, incident.ID).Scan(&incident.UpdatedAt); err != nil {
		return fmt.Errorf("failed to mark incident responding: %w", err)
	}
	incident.Status = models.StatusResponding
	incident.AssignedUnitIDs = append(incident.AssignedUnitIDs, unitIDs...)

	entry := &models.AuditLogEntry{
		UserID:    dispatcherID,
		Action:    models.AuditDispatchUnit,
		TableName: "incidents",
		RecordID:  incident.ID,
		OldData:   marshalSnapshot(map[string]any{"status": oldStatus}),
		NewData:   marshalSnapshot(map[string]any{"status": models.StatusResponding, "unit_ids": unitIDs}),
	}
	return recordAudit(ctx, tx, entry)
}

// ListByIncident возвращает активные отправки инцидента
func (r *DispatchRepository) ListByIncident(ctx context.Context, incidentID string) ([]*models.Dispatch, error) {
	query := `
		SELECT id, incident_id, unit_id, dispatched_by, eta_minutes, route, active, created_at
		FROM dispatches
		WHERE incident_id = $1 AND active
		ORDER BY created_at;
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatches: %w", err)
	}
	defer rows.Close()

	dispatches := make([]*models.Dispatch, 0)
	for rows.Next() {
		dispatch := &models.Dispatch{}
		var routeJSON []byte
		err := rows.Scan(
			&dispatch.ID,
			&dispatch.IncidentID,
			&dispatch.UnitID,
			&dispatch.DispatchedBy,
			&dispatch.ETAMinutes,
			&routeJSON,
			&dispatch.Active,
			&dispatch.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch row: %w", err)
		}
		if err := json.Unmarshal(routeJSON, &dispatch.Route); err != nil {
			return nil, fmt.Errorf("failed to unmarshal route: %w", err)
		}
		dispatches = append(dispatches, dispatch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error dispatch list iteration: %w", err)
	}
	return dispatches, nil
}
