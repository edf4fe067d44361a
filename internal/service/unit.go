package service

import (
	"context"
	"fmt"
	"time"

	"github.com/emergo/incident_dispatch_service/internal/feed"
	"github.com/emergo/incident_dispatch_service/internal/geo"
	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// UnitRepository определяет контракт для работы с бд экипажей
type UnitRepository interface {
	Create(ctx context.Context, unit *models.Unit, actorID string) error
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Unit, error)
	List(ctx context.Context) ([]*models.Unit, error)
	// Release переводит dispatched-экипаж обратно в available и деактивирует
	// его активную отправку одной транзакцией
	Release(ctx context.Context, id uuid.UUID, actorID string) (*models.Unit, error)
}

// UnitService определяет контракт для управления экипажами
type UnitService interface {
	CreateUnit(ctx context.Context, unit *models.Unit, actorID string) error
	ListUnits(ctx context.Context) ([]*models.Unit, error)
	ReleaseUnit(ctx context.Context, id uuid.UUID, actorID string) (*models.Unit, error)
}

type unitService struct {
	repo      UnitRepository
	logger    *logrus.Logger
	publisher feed.Publisher
}

func NewUnitService(repo UnitRepository, logger *logrus.Logger, publisher feed.Publisher) UnitService {
	return &unitService{
		repo:      repo,
		logger:    logger,
		publisher: publisher,
	}
}

// CreateUnit регистрирует новый экипаж, изначально в статусе available
func (s *unitService) CreateUnit(ctx context.Context, unit *models.Unit, actorID string) error {
	log := s.logger.WithFields(logrus.Fields{
		"service": "unit",
		"method":  "CreateUnit",
		"name":    unit.Name,
	})
	log.Info("Registering new unit")

	if !models.ValidUnitType(unit.Type) {
		return fmt.Errorf("service: unknown unit type %q", unit.Type)
	}
	if !geo.ValidCoordinates(unit.Latitude, unit.Longitude) {
		return models.ErrInvalidCoordinates
	}

	unit.Status = models.UnitAvailable
	if err := s.repo.Create(ctx, unit, actorID); err != nil {
		log.WithError(err).Error("Failed to create unit in repository")
		return fmt.Errorf("service: could not create unit: %w", err)
	}

	s.publishUnit(ctx, unit, feed.ActionInsert)
	log.WithField("unit_id", unit.ID).Info("Unit registered successfully")
	return nil
}

// ListUnits возвращает все экипажи
func (s *unitService) ListUnits(ctx context.Context) ([]*models.Unit, error) {
	units, err := s.repo.List(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list units from repository")
		return nil, fmt.Errorf("service: could not list units: %w", err)
	}
	return units, nil
}

// ReleaseUnit возвращает экипаж в строй после завершения выезда
func (s *unitService) ReleaseUnit(ctx context.Context, id uuid.UUID, actorID string) (*models.Unit, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "unit",
		"method":  "ReleaseUnit",
		"unit_id": id,
	})
	log.Info("Releasing unit")

	unit, err := s.repo.Release(ctx, id, actorID)
	if err != nil {
		log.WithError(err).Error("Failed to release unit in repository")
		return nil, fmt.Errorf("service: could not release unit: %w", err)
	}

	s.publishUnit(ctx, unit, feed.ActionUpdate)
	log.Info("Unit released successfully")
	return unit, nil
}

func (s *unitService) publishUnit(ctx context.Context, unit *models.Unit, action string) {
	event := feed.Event{
		Table:     feed.TableUnits,
		Action:    action,
		RecordID:  unit.ID.String(),
		Payload:   unit,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("unit_id", unit.ID).Warn("Failed to publish feed event")
	}
}
