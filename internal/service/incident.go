package service

import (
	"context"
	"fmt"
	"time"

	"github.com/emergo/incident_dispatch_service/internal/config"
	"github.com/emergo/incident_dispatch_service/internal/feed"
	"github.com/emergo/incident_dispatch_service/internal/geo"
	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/sirupsen/logrus"
)

// Пересчет радиуса слияния в градусы рамки предфильтра: 0.00045 градуса ~ 50 метров.
// Рамка - это оптимизация выборки, точную проверку делает гаверсинус
const bboxDegreesPerMeter = 0.00045 / 50

// IncidentRepository определяет контракт для работы с бд инцидентов
type IncidentRepository interface {
	// MergeOrCreate выполняет процедуру слияния одной транзакцией: выборка
	// кандидатов под блокировкой, выбор цели через pick, инкремент счетчика
	// либо вставка нового инцидента, запись аудита
	MergeOrCreate(ctx context.Context, report *models.IncidentReport, window time.Duration, bboxDelta float64, pick func([]*models.Incident) *models.Incident) (*models.ReportResult, error)
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	List(ctx context.Context, filter models.IncidentFilter, page, pageSize int) ([]*models.Incident, error)
	Verify(ctx context.Context, id, verifierID string) (*models.Incident, error)
	Resolve(ctx context.Context, id, userID string) (*models.Incident, error)
	GetIncidentFromCache(ctx context.Context, id string) (*models.Incident, error)
	SetIncidentCache(ctx context.Context, incident *models.Incident) error
	InvalidateIncidentCache(ctx context.Context, id string) error
}

// IncidentService определяет контракт для бизнес-логики управления инцидентами
type IncidentService interface {
	ReportIncident(ctx context.Context, report *models.IncidentReport) (*models.ReportResult, error)
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	ListIncidents(ctx context.Context, filter models.IncidentFilter, page, pageSize int) ([]*models.Incident, error)
	VerifyIncident(ctx context.Context, id, verifierID string) (*models.Incident, error)
	ResolveIncident(ctx context.Context, id, userID string) (*models.Incident, error)
}

type incidentService struct {
	repo      IncidentRepository
	logger    *logrus.Logger
	cfg       *config.Config
	publisher feed.Publisher
}

func NewIncidentService(repo IncidentRepository, logger *logrus.Logger, cfg *config.Config, publisher feed.Publisher) IncidentService {
	return &incidentService{
		repo:      repo,
		logger:    logger,
		cfg:       cfg,
		publisher: publisher,
	}
}

// ReportIncident принимает сообщение о происшествии и решает: слить с существующим
// открытым инцидентом или создать новый. Повторное сообщение того же типа в пределах
// радиуса и окна времени увеличивает счетчик подтверждений на 1
func (s *incidentService) ReportIncident(ctx context.Context, report *models.IncidentReport) (*models.ReportResult, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "ReportIncident",
		"type":    report.Type,
	})
	log.Info("Processing incident report")

	if !models.ValidIncidentType(report.Type) {
		return nil, fmt.Errorf("service: unknown incident type %q", report.Type)
	}
	if !models.ValidSeverity(report.Severity) {
		return nil, fmt.Errorf("service: unknown severity %q", report.Severity)
	}
	// Невалидные координаты отбрасываются до обращения к бд
	if !geo.ValidCoordinates(report.Latitude, report.Longitude) {
		return nil, models.ErrInvalidCoordinates
	}

	window := time.Duration(s.cfg.MergeWindowMinutes) * time.Minute
	bboxDelta := s.cfg.MergeRadiusMeters * bboxDegreesPerMeter

	result, err := s.repo.MergeOrCreate(ctx, report, window, bboxDelta, func(candidates []*models.Incident) *models.Incident {
		return mergeTarget(report.Latitude, report.Longitude, s.cfg.MergeRadiusMeters, candidates)
	})
	if err != nil {
		log.WithError(err).Error("Failed to run merge procedure in repository")
		return nil, fmt.Errorf("service: could not report incident: %w", err)
	}

	log = log.WithFields(logrus.Fields{
		"incident_id":        result.Incident.ID,
		"status":             result.Status,
		"verification_count": result.Incident.VerificationCount,
	})
	log.Info("Incident report processed")

	if result.Status == models.ReportMerged {
		if err := s.repo.InvalidateIncidentCache(ctx, result.Incident.ID); err != nil {
			log.WithError(err).Warn("Failed to invalidate incident cache")
		}
	}
	s.publishIncident(ctx, result.Incident, feedAction(result.Status))

	return result, nil
}

// mergeTarget выбирает инцидент для слияния: точная дистанция не больше радиуса
// (граница включительно), при нескольких кандидатах - самый свежий по reported_at
func mergeTarget(lat, lng, radiusMeters float64, candidates []*models.Incident) *models.Incident {
	var target *models.Incident
	for _, cand := range candidates {
		if geo.Distance(lat, lng, cand.Latitude, cand.Longitude) > radiusMeters {
			continue
		}
		if target == nil || cand.ReportedAt.After(target.ReportedAt) {
			target = cand
		}
	}
	return target
}

// GetIncident получает инцидент по ID, сначала из кеша
func (s *incidentService) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})

	cached, err := s.repo.GetIncidentFromCache(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident cache")
	}
	if cached != nil {
		return cached, nil
	}

	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident from repository")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}

	if err := s.repo.SetIncidentCache(ctx, incident); err != nil {
		log.WithError(err).Warn("Failed to cache incident")
	}
	return incident, nil
}

// ListIncidents возвращает список инцидентов с фильтром и пагинацией
func (s *incidentService) ListIncidents(ctx context.Context, filter models.IncidentFilter, page, pageSize int) ([]*models.Incident, error) {
	if page < 1 {
		page = 1
	}

	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	log := s.logger.WithFields(logrus.Fields{
		"service":   "incident",
		"method":    "ListIncidents",
		"page":      page,
		"page_size": pageSize,
	})

	incidents, err := s.repo.List(ctx, filter, page, pageSize)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from repository")
		return nil, fmt.Errorf("service: could not list incidents: %w", err)
	}

	log.WithField("count", len(incidents)).Info("Incidents listed successfully")
	return incidents, nil
}

// VerifyIncident помечает инцидент подтвержденным диспетчером
func (s *incidentService) VerifyIncident(ctx context.Context, id, verifierID string) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "VerifyIncident",
		"incident_id": id,
		"verifier_id": verifierID,
	})
	log.Info("Verifying incident")

	incident, err := s.repo.Verify(ctx, id, verifierID)
	if err != nil {
		log.WithError(err).Error("Failed to verify incident in repository")
		return nil, fmt.Errorf("service: could not verify incident: %w", err)
	}

	if err := s.repo.InvalidateIncidentCache(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
	s.publishIncident(ctx, incident, feed.ActionUpdate)

	log.Info("Incident verified successfully")
	return incident, nil
}

// ResolveIncident переводит инцидент в терминальный статус resolved.
// Переходы статуса только вперед, повторный resolve - конфликт
func (s *incidentService) ResolveIncident(ctx context.Context, id, userID string) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "ResolveIncident",
		"incident_id": id,
	})
	log.Info("Resolving incident")

	incident, err := s.repo.Resolve(ctx, id, userID)
	if err != nil {
		log.WithError(err).Error("Failed to resolve incident in repository")
		return nil, fmt.Errorf("service: could not resolve incident: %w", err)
	}

	if err := s.repo.InvalidateIncidentCache(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
	s.publishIncident(ctx, incident, feed.ActionUpdate)

	log.Info("Incident resolved successfully")
	return incident, nil
}

// publishIncident отправляет событие ленты изменений. Ошибка доставки не
// откатывает уже закоммиченное изменение, только логируется
func (s *incidentService) publishIncident(ctx context.Context, incident *models.Incident, action string) {
	event := feed.Event{
		Table:     feed.TableIncidents,
		Action:    action,
		RecordID:  incident.ID,
		Payload:   incident,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("incident_id", incident.ID).Warn("Failed to publish feed event")
	}
}

func feedAction(reportStatus string) string {
	if reportStatus == models.ReportCreated {
		return feed.ActionInsert
	}
	return feed.ActionUpdate
}
