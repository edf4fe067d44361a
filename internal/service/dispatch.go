package service

import (
	"context"
	"fmt"
	"time"

	"github.com/emergo/incident_dispatch_service/internal/feed"
	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/emergo/incident_dispatch_service/internal/routing"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DispatchRepository определяет контракт для работы с бд отправок
type DispatchRepository interface {
	// Commit атомарно создает записи отправки, переводит экипажи в dispatched,
	// инцидент в responding и пишет аудит. Любой конфликт откатывает все
	Commit(ctx context.Context, incidentID string, plans []*models.DispatchPlan, dispatcherID string) (*models.DispatchResult, error)
	ListByIncident(ctx context.Context, incidentID string) ([]*models.Dispatch, error)
}

// DispatchService определяет контракт для предпросмотра маршрутов и коммита отправки
type DispatchService interface {
	PreviewRoutes(ctx context.Context, incidentID string, unitIDs []uuid.UUID) ([]*models.DispatchPlan, error)
	CreateDispatch(ctx context.Context, incidentID string, unitIDs []uuid.UUID, dispatcherID string) (*models.DispatchResult, error)
}

type dispatchService struct {
	dispatchRepo DispatchRepository
	incidentRepo IncidentRepository
	unitRepo     UnitRepository
	planner      routing.Planner
	logger       *logrus.Logger
	publisher    feed.Publisher
}

func NewDispatchService(dispatchRepo DispatchRepository, incidentRepo IncidentRepository, unitRepo UnitRepository, planner routing.Planner, logger *logrus.Logger, publisher feed.Publisher) DispatchService {
	return &dispatchService{
		dispatchRepo: dispatchRepo,
		incidentRepo: incidentRepo,
		unitRepo:     unitRepo,
		planner:      planner,
		logger:       logger,
		publisher:    publisher,
	}
}

// PreviewRoutes рассчитывает маршруты и ETA кандидатов без побочных эффектов
func (s *dispatchService) PreviewRoutes(ctx context.Context, incidentID string, unitIDs []uuid.UUID) ([]*models.DispatchPlan, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "dispatch",
		"method":      "PreviewRoutes",
		"incident_id": incidentID,
	})
	log.Info("Previewing routes")

	incident, units, err := s.loadTargets(ctx, incidentID, unitIDs)
	if err != nil {
		log.WithError(err).Warn("Failed to load incident or units for preview")
		return nil, err
	}

	plans, err := s.planRoutes(ctx, incident, units)
	if err != nil {
		log.WithError(err).Error("Failed to plan routes")
		return nil, err
	}
	return plans, nil
}

// CreateDispatch выполняет атомарный коммит отправки: маршруты считаются заранее,
// все записи и смены статусов происходят одной транзакцией в репозитории
func (s *dispatchService) CreateDispatch(ctx context.Context, incidentID string, unitIDs []uuid.UUID, dispatcherID string) (*models.DispatchResult, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":       "dispatch",
		"method":        "CreateDispatch",
		"incident_id":   incidentID,
		"dispatcher_id": dispatcherID,
		"unit_count":    len(unitIDs),
	})
	log.Info("Committing dispatch")

	incident, units, err := s.loadTargets(ctx, incidentID, unitIDs)
	if err != nil {
		log.WithError(err).Warn("Failed to load incident or units for dispatch")
		return nil, err
	}

	plans, err := s.planRoutes(ctx, incident, units)
	if err != nil {
		log.WithError(err).Error("Failed to plan routes")
		return nil, err
	}

	result, err := s.dispatchRepo.Commit(ctx, incidentID, plans, dispatcherID)
	if err != nil {
		log.WithError(err).Error("Failed to commit dispatch in repository")
		return nil, fmt.Errorf("service: could not commit dispatch: %w", err)
	}

	if err := s.incidentRepo.InvalidateIncidentCache(ctx, incidentID); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
	s.publishDispatchResult(ctx, result)

	log.WithField("dispatched_count", result.DispatchedCount).Info("Dispatch committed successfully")
	return result, nil
}

// loadTargets загружает инцидент и экипажи, отбрасывая дубликаты ID экипажей
func (s *dispatchService) loadTargets(ctx context.Context, incidentID string, unitIDs []uuid.UUID) (*models.Incident, []*models.Unit, error) {
	if len(unitIDs) == 0 {
		return nil, nil, fmt.Errorf("service: at least one unit is required")
	}
	unitIDs = dedupeIDs(unitIDs)

	incident, err := s.incidentRepo.GetByID(ctx, incidentID)
	if err != nil {
		return nil, nil, fmt.Errorf("service: could not get incident: %w", err)
	}

	units, err := s.unitRepo.GetByIDs(ctx, unitIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("service: could not get units: %w", err)
	}
	if len(units) != len(unitIDs) {
		return nil, nil, models.ErrUnitNotFound
	}
	return incident, units, nil
}

func (s *dispatchService) planRoutes(ctx context.Context, incident *models.Incident, units []*models.Unit) ([]*models.DispatchPlan, error) {
	plans := make([]*models.DispatchPlan, 0, len(units))
	target := models.GeoPoint{Latitude: incident.Latitude, Longitude: incident.Longitude}
	for _, unit := range units {
		from := models.GeoPoint{Latitude: unit.Latitude, Longitude: unit.Longitude}
		route, eta, err := s.planner.Plan(ctx, from, target)
		if err != nil {
			return nil, fmt.Errorf("service: could not plan route for unit %s: %w", unit.ID, err)
		}
		plans = append(plans, &models.DispatchPlan{
			UnitID:     unit.ID,
			Route:      route,
			ETAMinutes: eta,
		})
	}
	return plans, nil
}

// publishDispatchResult транслирует в ленту все строки, затронутые коммитом
func (s *dispatchService) publishDispatchResult(ctx context.Context, result *models.DispatchResult) {
	now := time.Now().UTC()
	events := make([]feed.Event, 0, 1+len(result.Units)+len(result.Dispatches))
	events = append(events, feed.Event{
		Table:     feed.TableIncidents,
		Action:    feed.ActionUpdate,
		RecordID:  result.Incident.ID,
		Payload:   result.Incident,
		Timestamp: now,
	})
	for _, unit := range result.Units {
		events = append(events, feed.Event{
			Table:     feed.TableUnits,
			Action:    feed.ActionUpdate,
			RecordID:  unit.ID.String(),
			Payload:   unit,
			Timestamp: now,
		})
	}
	for _, d := range result.Dispatches {
		events = append(events, feed.Event{
			Table:     feed.TableDispatches,
			Action:    feed.ActionInsert,
			RecordID:  d.ID.String(),
			Payload:   d,
			Timestamp: now,
		})
	}

	for _, event := range events {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.WithError(err).WithField("record_id", event.RecordID).Warn("Failed to publish feed event")
		}
	}
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
