package service

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	feed_mocks "github.com/emergo/incident_dispatch_service/internal/feed/mocks"
	"github.com/emergo/incident_dispatch_service/internal/models"
	routing_mocks "github.com/emergo/incident_dispatch_service/internal/routing/mocks"
	"github.com/emergo/incident_dispatch_service/internal/service/mocks"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type dispatchServiceMocks struct {
	dispatchRepo *mocks.MockDispatchRepository
	incidentRepo *mocks.MockIncidentRepository
	unitRepo     *mocks.MockUnitRepository
	planner      *routing_mocks.MockPlanner
	publisher    *feed_mocks.MockPublisher
}

// newTestDispatchService — вспомогательная функция для создания инстанса сервиса с моками.
func newTestDispatchService(t *testing.T) (*dispatchService, dispatchServiceMocks) {
	ctrl := gomock.NewController(t)
	m := dispatchServiceMocks{
		dispatchRepo: mocks.NewMockDispatchRepository(ctrl),
		incidentRepo: mocks.NewMockIncidentRepository(ctrl),
		unitRepo:     mocks.NewMockUnitRepository(ctrl),
		planner:      routing_mocks.NewMockPlanner(ctrl),
		publisher:    feed_mocks.NewMockPublisher(ctrl),
	}

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	service := NewDispatchService(m.dispatchRepo, m.incidentRepo, m.unitRepo, m.planner, logger, m.publisher)
	return service.(*dispatchService), m
}

func newPendingIncident() *models.Incident {
	return &models.Incident{
		ID:        "INC-20260115-0001",
		Type:      models.IncidentFire,
		Severity:  models.SeverityHigh,
		Latitude:  40.7589,
		Longitude: -73.9851,
		Status:    models.StatusPending,
	}
}

func newAvailableUnit(name string) *models.Unit {
	return &models.Unit{
		ID:        uuid.New(),
		Name:      name,
		Type:      models.UnitFireTruck,
		Status:    models.UnitAvailable,
		Latitude:  40.75,
		Longitude: -73.99,
	}
}

func TestPreviewRoutes_Success(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incident := newPendingIncident()
	unit := newAvailableUnit("Engine 1")
	route := []models.GeoPoint{
		{Latitude: unit.Latitude, Longitude: unit.Longitude},
		{Latitude: incident.Latitude, Longitude: incident.Longitude},
	}

	// Ожидания
	m.incidentRepo.EXPECT().
		GetByID(ctx, incident.ID).
		Return(incident, nil).
		Times(1)
	m.unitRepo.EXPECT().
		GetByIDs(ctx, []uuid.UUID{unit.ID}).
		Return([]*models.Unit{unit}, nil).
		Times(1)
	m.planner.EXPECT().
		Plan(ctx, models.GeoPoint{Latitude: unit.Latitude, Longitude: unit.Longitude}, models.GeoPoint{Latitude: incident.Latitude, Longitude: incident.Longitude}).
		Return(route, 6, nil).
		Times(1)

	// Действие
	plans, err := service.PreviewRoutes(ctx, incident.ID, []uuid.UUID{unit.ID})

	// Проверки
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, unit.ID, plans[0].UnitID)
	assert.Equal(t, 6, plans[0].ETAMinutes)
	assert.Equal(t, route, plans[0].Route)
}

func TestPreviewRoutes_IncidentNotFound(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()

	// Ожидания
	m.incidentRepo.EXPECT().
		GetByID(ctx, "INC-20260115-9999").
		Return(nil, models.ErrIncidentNotFound).
		Times(1)

	// Действие
	plans, err := service.PreviewRoutes(ctx, "INC-20260115-9999", []uuid.UUID{uuid.New()})

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrIncidentNotFound)
	assert.Nil(t, plans)
}

func TestCreateDispatch_Success(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incident := newPendingIncident()
	unit := newAvailableUnit("Engine 1")

	responding := *incident
	responding.Status = models.StatusResponding
	dispatchedUnit := *unit
	dispatchedUnit.Status = models.UnitDispatched

	expectedResult := &models.DispatchResult{
		Incident: &responding,
		Units:    []*models.Unit{&dispatchedUnit},
		Dispatches: []*models.Dispatch{{
			ID:           uuid.New(),
			IncidentID:   incident.ID,
			UnitID:       unit.ID,
			DispatchedBy: "dispatcher-7",
			ETAMinutes:   6,
			Active:       true,
		}},
		DispatchedCount: 1,
	}

	// Ожидания
	m.incidentRepo.EXPECT().
		GetByID(ctx, incident.ID).
		Return(incident, nil).
		Times(1)
	m.unitRepo.EXPECT().
		GetByIDs(ctx, []uuid.UUID{unit.ID}).
		Return([]*models.Unit{unit}, nil).
		Times(1)
	m.planner.EXPECT().
		Plan(ctx, gomock.Any(), gomock.Any()).
		Return([]models.GeoPoint{}, 6, nil).
		Times(1)
	m.dispatchRepo.EXPECT().
		Commit(ctx, incident.ID, gomock.Any(), "dispatcher-7").
		Return(expectedResult, nil).
		Times(1)
	m.incidentRepo.EXPECT().
		InvalidateIncidentCache(ctx, incident.ID).
		Return(nil).
		Times(1)
	// Событие по инциденту, по экипажу и по записи отправки
	m.publisher.EXPECT().
		Publish(ctx, gomock.Any()).
		Return(nil).
		Times(3)

	// Действие
	result, err := service.CreateDispatch(ctx, incident.ID, []uuid.UUID{unit.ID}, "dispatcher-7")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, 1, result.DispatchedCount)
	assert.Equal(t, models.StatusResponding, result.Incident.Status)
	assert.Equal(t, models.UnitDispatched, result.Units[0].Status)
}

func TestCreateDispatch_DeduplicatesUnitIDs(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incident := newPendingIncident()
	unit := newAvailableUnit("Engine 1")

	// Ожидания: дубликат ID экипажа схлопывается до одного
	m.incidentRepo.EXPECT().
		GetByID(ctx, incident.ID).
		Return(incident, nil).
		Times(1)
	m.unitRepo.EXPECT().
		GetByIDs(ctx, []uuid.UUID{unit.ID}).
		Return([]*models.Unit{unit}, nil).
		Times(1)
	m.planner.EXPECT().
		Plan(ctx, gomock.Any(), gomock.Any()).
		Return([]models.GeoPoint{}, 6, nil).
		Times(1)
	m.dispatchRepo.EXPECT().
		Commit(ctx, incident.ID, gomock.Any(), "dispatcher-7").
		Return(&models.DispatchResult{Incident: incident, DispatchedCount: 1}, nil).
		Times(1)
	m.incidentRepo.EXPECT().
		InvalidateIncidentCache(ctx, incident.ID).
		Return(nil).
		Times(1)
	m.publisher.EXPECT().
		Publish(ctx, gomock.Any()).
		Return(nil).
		Times(1)

	// Действие
	_, err := service.CreateDispatch(ctx, incident.ID, []uuid.UUID{unit.ID, unit.ID}, "dispatcher-7")

	// Проверки
	require.NoError(t, err)
}

func TestCreateDispatch_UnknownUnit(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incident := newPendingIncident()
	knownUnit := newAvailableUnit("Engine 1")
	unknownID := uuid.New()

	// Ожидания: репозиторий вернул меньше экипажей, чем запрошено
	m.incidentRepo.EXPECT().
		GetByID(ctx, incident.ID).
		Return(incident, nil).
		Times(1)
	m.unitRepo.EXPECT().
		GetByIDs(ctx, []uuid.UUID{knownUnit.ID, unknownID}).
		Return([]*models.Unit{knownUnit}, nil).
		Times(1)

	// Действие
	result, err := service.CreateDispatch(ctx, incident.ID, []uuid.UUID{knownUnit.ID, unknownID}, "dispatcher-7")

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnitNotFound)
	assert.Nil(t, result)
}

func TestCreateDispatch_UnitUnavailable(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incident := newPendingIncident()
	unit := newAvailableUnit("Engine 1")

	// Ожидания: конфликт доступности обнаруживается в транзакции коммита
	m.incidentRepo.EXPECT().
		GetByID(ctx, incident.ID).
		Return(incident, nil).
		Times(1)
	m.unitRepo.EXPECT().
		GetByIDs(ctx, []uuid.UUID{unit.ID}).
		Return([]*models.Unit{unit}, nil).
		Times(1)
	m.planner.EXPECT().
		Plan(ctx, gomock.Any(), gomock.Any()).
		Return([]models.GeoPoint{}, 6, nil).
		Times(1)
	m.dispatchRepo.EXPECT().
		Commit(ctx, incident.ID, gomock.Any(), "dispatcher-7").
		Return(nil, fmt.Errorf("%w: %s", models.ErrUnitUnavailable, unit.ID)).
		Times(1)

	// Действие
	result, err := service.CreateDispatch(ctx, incident.ID, []uuid.UUID{unit.ID}, "dispatcher-7")

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnitUnavailable)
	assert.Nil(t, result)
}

func TestCreateDispatch_ClosedIncident(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incident := newPendingIncident()
	incident.Status = models.StatusResolved
	unit := newAvailableUnit("Engine 1")

	// Ожидания
	m.incidentRepo.EXPECT().
		GetByID(ctx, incident.ID).
		Return(incident, nil).
		Times(1)
	m.unitRepo.EXPECT().
		GetByIDs(ctx, []uuid.UUID{unit.ID}).
		Return([]*models.Unit{unit}, nil).
		Times(1)
	m.planner.EXPECT().
		Plan(ctx, gomock.Any(), gomock.Any()).
		Return([]models.GeoPoint{}, 6, nil).
		Times(1)
	m.dispatchRepo.EXPECT().
		Commit(ctx, incident.ID, gomock.Any(), "dispatcher-7").
		Return(nil, models.ErrIncidentClosed).
		Times(1)

	// Действие
	result, err := service.CreateDispatch(ctx, incident.ID, []uuid.UUID{unit.ID}, "dispatcher-7")

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrIncidentClosed)
	assert.Nil(t, result)
}

func TestCreateDispatch_NoUnits(t *testing.T) {
	// Подготовка
	service, _ := newTestDispatchService(t)

	// Действие
	result, err := service.CreateDispatch(context.Background(), "INC-20260115-0001", nil, "dispatcher-7")

	// Проверки
	require.Error(t, err)
	assert.Nil(t, result)
}
