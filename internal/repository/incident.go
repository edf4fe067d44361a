package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emergo/incident_dispatch_service/internal/geo"
	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/emergo/incident_dispatch_service/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const incidentColumns = `
	id,
	type,
	severity,
	description,
	latitude,
	longitude,
	address,
	status,
	verification_count,
	reported_by,
	reported_at,
	is_verified,
	created_at,
	updated_at`

type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
}

func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client) service.IncidentRepository {
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
	}
}

// MergeOrCreate выполняет процедуру слияния одной транзакцией.
// Кандидаты выбираются рамкой-предфильтром под FOR UPDATE, точное решение
// принимает колбэк pick. Конкурентные сообщения об одном событии сериализуются
// блокировкой строк-кандидатов и сходятся в один инцидент
func (r *IncidentRepository) MergeOrCreate(ctx context.Context, report *models.IncidentReport, window time.Duration, bboxDelta float64, pick func([]*models.Incident) *models.Incident) (*models.ReportResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	box := geo.BoundingBox(report.Latitude, report.Longitude, bboxDelta)
	cutoff := time.Now().UTC().Add(-window)

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE
			type = $1
			AND status IN ('pending', 'responding')
			AND reported_at >= $2
			AND latitude BETWEEN $3 AND $4
			AND longitude BETWEEN $5 AND $6
		ORDER BY reported_at DESC
		FOR UPDATE;
	`
	rows, err := tx.Query(ctx, query,
		report.Type,
		cutoff,
		box.MinLat,
		box.MaxLat,
		box.MinLng,
		box.MaxLng,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select merge candidates: %w", err)
	}
	candidates, err := scanIncidentRows(rows)
	if err != nil {
		return nil, err
	}

	target := pick(candidates)

	var result *models.ReportResult
	if target != nil {
		result, err = r.mergeInto(ctx, tx, target, report)
	} else {
		result, err = r.insertNew(ctx, tx, report)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit merge transaction: %w", err)
	}
	return result, nil
}

// mergeInto увеличивает счетчик подтверждений существующего инцидента
func (r *IncidentRepository) mergeInto(ctx context.Context, tx pgx.Tx, target *models.Incident, report *models.IncidentReport) (*models.ReportResult, error) {
	oldCount := target.VerificationCount

	query := `
		UPDATE incidents SET
			verification_count = verification_count + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING verification_count, updated_at;
	`
	err := tx.QueryRow(ctx, query, target.ID).Scan(&target.VerificationCount, &target.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to increment verification count: %w", err)
	}

	entry := &models.AuditLogEntry{
		UserID:    reporterID(report),
		Action:    models.AuditMergeIncident,
		TableName: "incidents",
		RecordID:  target.ID,
		OldData:   marshalSnapshot(map[string]any{"verification_count": oldCount}),
		NewData:   marshalSnapshot(map[string]any{"verification_count": target.VerificationCount}),
	}
	if err := recordAudit(ctx, tx, entry); err != nil {
		return nil, err
	}

	return &models.ReportResult{Status: models.ReportMerged, Incident: target}, nil
}

// insertNew вставляет новый инцидент со счетчиком 1 и статусом pending
func (r *IncidentRepository) insertNew(ctx context.Context, tx pgx.Tx, report *models.IncidentReport) (*models.ReportResult, error) {
	id, err := nextIncidentID(ctx, tx)
	if err != nil {
		return nil, err
	}

	incident := &models.Incident{
		ID:                id,
		Type:              report.Type,
		Severity:          report.Severity,
		Description:       report.Description,
		Latitude:          report.Latitude,
		Longitude:         report.Longitude,
		Address:           report.Address,
		Status:            models.StatusPending,
		VerificationCount: 1,
		ReportedBy:        report.ReportedBy,
	}

	query := `
		INSERT INTO incidents (id, type, severity, description, latitude, longitude, address, status, verification_count, reported_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING reported_at, created_at, updated_at;
	`
	err = tx.QueryRow(ctx, query,
		incident.ID,
		incident.Type,
		incident.Severity,
		incident.Description,
		incident.Latitude,
		incident.Longitude,
		incident.Address,
		incident.Status,
		incident.VerificationCount,
		incident.ReportedBy,
	).Scan(&incident.ReportedAt, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert incident: %w", err)
	}

	newData, err := json.Marshal(incident)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal incident snapshot: %w", err)
	}
	entry := &models.AuditLogEntry{
		UserID:    reporterID(report),
		Action:    models.AuditReportIncident,
		TableName: "incidents",
		RecordID:  incident.ID,
		NewData:   newData,
	}
	if err := recordAudit(ctx, tx, entry); err != nil {
		return nil, err
	}

	return &models.ReportResult{Status: models.ReportCreated, Incident: incident}, nil
}

// nextIncidentID выдает следующий номер дня из incident_counters
// и форматирует человекочитаемый идентификатор INC-YYYYMMDD-NNNN
func nextIncidentID(ctx context.Context, tx pgx.Tx) (string, error) {
	day := time.Now().UTC()

	query := `
		INSERT INTO incident_counters (day, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_seq = incident_counters.last_seq + 1
		RETURNING last_seq;
	`
	var seq int
	if err := tx.QueryRow(ctx, query, day.Format("2006-01-02")).Scan(&seq); err != nil {
		return "", fmt.Errorf("failed to allocate incident sequence: %w", err)
	}
	return fmt.Sprintf("INC-%s-%04d", day.Format("20060102"), seq), nil
}

// GetByID возвращает инцидент вместе с ID назначенных экипажей
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE id = $1;
	`
	incident, err := scanIncidentRow(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to get incident by id: %w", err)
	}

	unitQuery := `
		SELECT unit_id
		FROM dispatches
		WHERE incident_id = $1 AND active;
	`
	rows, err := r.db.Query(ctx, unitQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get assigned units: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var unitID uuid.UUID
		if err := rows.Scan(&unitID); err != nil {
			return nil, fmt.Errorf("failed to scan assigned unit id: %w", err)
		}
		incident.AssignedUnitIDs = append(incident.AssignedUnitIDs, unitID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error assigned units iteration: %w", err)
	}
	return incident, nil
}

// List возвращает список инцидентов с фильтром и пагинацией
func (r *IncidentRepository) List(ctx context.Context, filter models.IncidentFilter, page, pageSize int) ([]*models.Incident, error) {
	offset := (page - 1) * pageSize

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE
			($1 = '' OR status = $1)
			AND ($2 = '' OR type = $2)
		ORDER BY reported_at DESC
		LIMIT $3 OFFSET $4;
	`
	rows, err := r.db.Query(ctx, query, string(filter.Status), string(filter.Type), pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	return scanIncidentRows(rows)
}

// Verify помечает инцидент подтвержденным и пишет аудит одной транзакцией
func (r *IncidentRepository) Verify(ctx context.Context, id, verifierID string) (*models.Incident, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin verify transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE id = $1
		FOR UPDATE;
	`
	incident, err := scanIncidentRow(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to lock incident for verify: %w", err)
	}

	wasVerified := incident.IsVerified

	updateQuery := `
		UPDATE incidents SET
			is_verified = TRUE,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at;
	`
	if err := tx.QueryRow(ctx, updateQuery, id).Scan(&incident.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to verify incident: %w", err)
	}
	incident.IsVerified = true

	entry := &models.AuditLogEntry{
		UserID:    verifierID,
		Action:    models.AuditVerifyIncident,
		TableName: "incidents",
		RecordID:  id,
		OldData:   marshalSnapshot(map[string]any{"is_verified": wasVerified}),
		NewData:   marshalSnapshot(map[string]any{"is_verified": true}),
	}
	if err := recordAudit(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit verify transaction: %w", err)
	}
	return incident, nil
}

// Resolve переводит инцидент в resolved. Переход только вперед:
// повторный resolve возвращает конфликт
func (r *IncidentRepository) Resolve(ctx context.Context, id, userID string) (*models.Incident, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin resolve transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE id = $1
		FOR UPDATE;
	`
	incident, err := scanIncidentRow(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to lock incident for resolve: %w", err)
	}

	if incident.Status == models.StatusResolved {
		return nil, models.ErrInvalidTransition
	}
	oldStatus := incident.Status

	updateQuery := `
		UPDATE incidents SET
			status = 'resolved',
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at;
	`
	if err := tx.QueryRow(ctx, updateQuery, id).Scan(&incident.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}
	incident.Status = models.StatusResolved

	entry := &models.AuditLogEntry{
		UserID:    userID,
		Action:    models.AuditResolveIncident,
		TableName: "incidents",
		RecordID:  id,
		OldData:   marshalSnapshot(map[string]any{"status": oldStatus}),
		NewData:   marshalSnapshot(map[string]any{"status": models.StatusResolved}),
	}
	if err := recordAudit(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit resolve transaction: %w", err)
	}
	return incident, nil
}

// GetIncidentFromCache пытается получить инцидент из Redis
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id string) (*models.Incident, error) {
	key := fmt.Sprintf("incident:%s", id)
	val, err := r.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	incident := &models.Incident{}
	if err := json.Unmarshal(val, incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return incident, nil
}

// SetIncidentCache сохраняет инцидент в Redis
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, incident *models.Incident) error {
	key := fmt.Sprintf("incident:%s", incident.ID)
	val, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	// Устанавливаем срок жизни кэша, например, 5 минут
	if err := r.redisClient.Set(ctx, key, val, 5*time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache удаляет инцидент из Redis кэша
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id string) error {
	key := fmt.Sprintf("incident:%s", id)
	if err := r.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}

func scanIncidentRow(row pgx.Row) (*models.Incident, error) {
	incident := &models.Incident{}
	err := row.Scan(
		&incident.ID,
		&incident.Type,
		&incident.Severity,
		&incident.Description,
		&incident.Latitude,
		&incident.Longitude,
		&incident.Address,
		&incident.Status,
		&incident.VerificationCount,
		&incident.ReportedBy,
		&incident.ReportedAt,
		&incident.IsVerified,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return incident, nil
}

func scanIncidentRows(rows pgx.Rows) ([]*models.Incident, error) {
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncidentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error incident list iteration: %w", err)
	}
	return incidents, nil
}

// reporterID возвращает идентификатор репортера для журнала аудита
func reporterID(report *models.IncidentReport) string {
	if report.ReportedBy != nil && *report.ReportedBy != "" {
		return *report.ReportedBy
	}
	return models.AnonymousUserID
}

// marshalSnapshot сериализует снапшот для журнала; карты примитивов не падают на Marshal
func marshalSnapshot(data map[string]any) json.RawMessage {
	raw, _ := json.Marshal(data)
	return raw
}
