package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emergo/incident_dispatch_service/internal/config"
	feed_mocks "github.com/emergo/incident_dispatch_service/internal/feed/mocks"
	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/emergo/incident_dispatch_service/internal/service/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// Координаты для тестов: Таймс-сквер и точки в ~30 и ~200 метрах к северу.
const (
	baseLat = 40.7589
	baseLng = -73.9851

	lat30mNorth  = baseLat + 30.0/111195.0
	lat200mNorth = baseLat + 200.0/111195.0
)

// newTestIncidentService — вспомогательная функция для создания инстанса сервиса с моками.
func newTestIncidentService(t *testing.T) (*incidentService, *mocks.MockIncidentRepository, *feed_mocks.MockPublisher) {
	ctrl := gomock.NewController(t)
	repoMock := mocks.NewMockIncidentRepository(ctrl)
	publisherMock := feed_mocks.NewMockPublisher(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{
		MergeRadiusMeters:  50,
		MergeWindowMinutes: 30,
	}

	service := NewIncidentService(repoMock, logger, cfg, publisherMock)
	return service.(*incidentService), repoMock, publisherMock
}

func newReport() *models.IncidentReport {
	return &models.IncidentReport{
		Type:        models.IncidentFire,
		Severity:    models.SeverityHigh,
		Description: "Smoke from third floor window",
		Latitude:    baseLat,
		Longitude:   baseLng,
	}
}

func TestMergeTarget_WithinRadius(t *testing.T) {
	candidate := &models.Incident{
		ID:        "INC-20260115-0001",
		Latitude:  lat30mNorth,
		Longitude: baseLng,
	}

	target := mergeTarget(baseLat, baseLng, 50, []*models.Incident{candidate})

	require.NotNil(t, target)
	assert.Equal(t, candidate.ID, target.ID)
}

func TestMergeTarget_OutsideRadius(t *testing.T) {
	candidate := &models.Incident{
		ID:        "INC-20260115-0001",
		Latitude:  lat200mNorth,
		Longitude: baseLng,
	}

	target := mergeTarget(baseLat, baseLng, 50, []*models.Incident{candidate})

	assert.Nil(t, target)
}

func TestMergeTarget_PicksLatestReported(t *testing.T) {
	now := time.Now()
	older := &models.Incident{
		ID:         "INC-20260115-0001",
		Latitude:   baseLat,
		Longitude:  baseLng,
		ReportedAt: now.Add(-20 * time.Minute),
	}
	newer := &models.Incident{
		ID:         "INC-20260115-0002",
		Latitude:   lat30mNorth,
		Longitude:  baseLng,
		ReportedAt: now.Add(-5 * time.Minute),
	}

	target := mergeTarget(baseLat, baseLng, 50, []*models.Incident{older, newer})

	require.NotNil(t, target)
	assert.Equal(t, newer.ID, target.ID)
}

func TestReportIncident_Created(t *testing.T) {
	// Подготовка
	service, repoMock, publisherMock := newTestIncidentService(t)
	ctx := context.Background()
	report := newReport()

	created := &models.Incident{
		ID:                "INC-20260115-0001",
		Type:              models.IncidentFire,
		Severity:          models.SeverityHigh,
		Latitude:          baseLat,
		Longitude:         baseLng,
		Status:            models.StatusPending,
		VerificationCount: 1,
	}

	// Ожидания
	repoMock.EXPECT().
		MergeOrCreate(ctx, report, 30*time.Minute, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ *models.IncidentReport, _ time.Duration, _ float64, pick func([]*models.Incident) *models.Incident) (*models.ReportResult, error) {
			// Кандидатов в рамке нет - колбек обязан вернуть nil
			require.Nil(t, pick(nil))
			return &models.ReportResult{Status: models.ReportCreated, Incident: created}, nil
		}).
		Times(1)
	publisherMock.EXPECT().
		Publish(ctx, gomock.Any()).
		Return(nil).
		Times(1)

	// Действие
	result, err := service.ReportIncident(ctx, report)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.ReportCreated, result.Status)
	assert.Equal(t, 1, result.Incident.VerificationCount)
}

func TestReportIncident_MergedWithinRadius(t *testing.T) {
	// Подготовка
	service, repoMock, publisherMock := newTestIncidentService(t)
	ctx := context.Background()
	report := newReport()

	existing := &models.Incident{
		ID:                "INC-20260115-0001",
		Type:              models.IncidentFire,
		Severity:          models.SeverityHigh,
		Latitude:          lat30mNorth,
		Longitude:         baseLng,
		Status:            models.StatusPending,
		VerificationCount: 1,
		ReportedAt:        time.Now().Add(-10 * time.Minute),
	}

	// Ожидания
	repoMock.EXPECT().
		MergeOrCreate(ctx, report, 30*time.Minute, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ *models.IncidentReport, _ time.Duration, _ float64, pick func([]*models.Incident) *models.Incident) (*models.ReportResult, error) {
			// Кандидат в ~30 метрах того же типа должен быть выбран для слияния
			target := pick([]*models.Incident{existing})
			require.NotNil(t, target)
			require.Equal(t, existing.ID, target.ID)

			merged := *existing
			merged.VerificationCount = 2
			return &models.ReportResult{Status: models.ReportMerged, Incident: &merged}, nil
		}).
		Times(1)
	repoMock.EXPECT().
		InvalidateIncidentCache(ctx, existing.ID).
		Return(nil).
		Times(1)
	publisherMock.EXPECT().
		Publish(ctx, gomock.Any()).
		Return(nil).
		Times(1)

	// Действие
	result, err := service.ReportIncident(ctx, report)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.ReportMerged, result.Status)
	assert.Equal(t, "INC-20260115-0001", result.Incident.ID)
	assert.Equal(t, 2, result.Incident.VerificationCount)
}

func TestReportIncident_FarReportNotMerged(t *testing.T) {
	// Подготовка
	service, repoMock, publisherMock := newTestIncidentService(t)
	ctx := context.Background()
	report := newReport()

	farAway := &models.Incident{
		ID:        "INC-20260115-0001",
		Latitude:  lat200mNorth,
		Longitude: baseLng,
	}
	created := &models.Incident{
		ID:                "INC-20260115-0002",
		Status:            models.StatusPending,
		VerificationCount: 1,
	}

	// Ожидания
	repoMock.EXPECT().
		MergeOrCreate(ctx, report, 30*time.Minute, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ *models.IncidentReport, _ time.Duration, _ float64, pick func([]*models.Incident) *models.Incident) (*models.ReportResult, error) {
			// Кандидат в ~200 метрах вне радиуса слияния
			require.Nil(t, pick([]*models.Incident{farAway}))
			return &models.ReportResult{Status: models.ReportCreated, Incident: created}, nil
		}).
		Times(1)
	publisherMock.EXPECT().
		Publish(ctx, gomock.Any()).
		Return(nil).
		Times(1)

	// Действие
	result, err := service.ReportIncident(ctx, report)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.ReportCreated, result.Status)
	assert.Equal(t, "INC-20260115-0002", result.Incident.ID)
}

func TestReportIncident_UnknownType(t *testing.T) {
	// Подготовка
	service, _, _ := newTestIncidentService(t)
	report := newReport()
	report.Type = "flood"

	// Действие
	result, err := service.ReportIncident(context.Background(), report)

	// Проверки
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestReportIncident_InvalidCoordinates(t *testing.T) {
	// Подготовка
	service, _, _ := newTestIncidentService(t)
	report := newReport()
	report.Latitude = 91

	// Действие
	result, err := service.ReportIncident(context.Background(), report)

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidCoordinates)
	assert.Nil(t, result)
}

func TestReportIncident_RepositoryError(t *testing.T) {
	// Подготовка
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	report := newReport()
	expectedErr := fmt.Errorf("db connection lost")

	// Ожидания
	repoMock.EXPECT().
		MergeOrCreate(ctx, report, 30*time.Minute, gomock.Any(), gomock.Any()).
		Return(nil, expectedErr).
		Times(1)

	// Действие
	result, err := service.ReportIncident(ctx, report)

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, expectedErr)
	assert.Nil(t, result)
}

func TestGetIncident_Success_FromCache(t *testing.T) {
	// Подготовка
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	expectedIncident := &models.Incident{
		ID:          "INC-20260115-0001",
		Description: "Тестовый инцидент из кеша",
	}

	// Ожидания
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, expectedIncident.ID).
		Return(expectedIncident, nil).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, expectedIncident.ID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_Success_FromDB(t *testing.T) {
	// Подготовка
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	expectedIncident := &models.Incident{
		ID:          "INC-20260115-0001",
		Description: "Тестовый инцидент из БД",
	}

	// Ожидания
	// 1. Промах кеша
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, expectedIncident.ID).
		Return(nil, nil).
		Times(1)

	// 2. Попадание в БД
	repoMock.EXPECT().
		GetByID(ctx, expectedIncident.ID).
		Return(expectedIncident, nil).
		Times(1)

	// 3. Запись в кеш
	repoMock.EXPECT().
		SetIncidentCache(ctx, expectedIncident).
		Return(nil).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, expectedIncident.ID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_NotFound(t *testing.T) {
	// Подготовка
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := "INC-20260115-9999"

	// Ожидания
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(nil, nil).
		Times(1)
	repoMock.EXPECT().
		GetByID(ctx, incidentID).
		Return(nil, models.ErrIncidentNotFound).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrIncidentNotFound)
	assert.Nil(t, incident)
}

func TestListIncidents_NormalizesPagination(t *testing.T) {
	// Подготовка
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	filter := models.IncidentFilter{Status: models.StatusPending}
	expected := []*models.Incident{{ID: "INC-20260115-0001"}}

	// Ожидания: отрицательная страница и нулевой размер заменяются дефолтами
	repoMock.EXPECT().
		List(ctx, filter, 1, 20).
		Return(expected, nil).
		Times(1)

	// Действие
	incidents, err := service.ListIncidents(ctx, filter, -3, 0)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expected, incidents)
}

func TestVerifyIncident_Success(t *testing.T) {
	// Подготовка
	service, repoMock, publisherMock := newTestIncidentService(t)
	ctx := context.Background()
	verified := &models.Incident{
		ID:         "INC-20260115-0001",
		IsVerified: true,
		Status:     models.StatusPending,
	}

	// Ожидания
	repoMock.EXPECT().
		Verify(ctx, verified.ID, "dispatcher-7").
		Return(verified, nil).
		Times(1)
	repoMock.EXPECT().
		InvalidateIncidentCache(ctx, verified.ID).
		Return(nil).
		Times(1)
	publisherMock.EXPECT().
		Publish(ctx, gomock.Any()).
		Return(nil).
		Times(1)

	// Действие
	incident, err := service.VerifyIncident(ctx, verified.ID, "dispatcher-7")

	// Проверки
	require.NoError(t, err)
	assert.True(t, incident.IsVerified)
}

func TestResolveIncident_Success(t *testing.T) {
	// Подготовка
	service, repoMock, publisherMock := newTestIncidentService(t)
	ctx := context.Background()
	resolved := &models.Incident{
		ID:     "INC-20260115-0001",
		Status: models.StatusResolved,
	}

	// Ожидания
	repoMock.EXPECT().
		Resolve(ctx, resolved.ID, "dispatcher-7").
		Return(resolved, nil).
		Times(1)
	repoMock.EXPECT().
		InvalidateIncidentCache(ctx, resolved.ID).
		Return(nil).
		Times(1)
	publisherMock.EXPECT().
		Publish(ctx, gomock.Any()).
		Return(nil).
		Times(1)

	// Действие
	incident, err := service.ResolveIncident(ctx, resolved.ID, "dispatcher-7")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, incident.Status)
}

func TestResolveIncident_AlreadyResolved(t *testing.T) {
	// Подготовка
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := "INC-20260115-0001"

	// Ожидания: повторный resolve - конфликт переходов статуса
	repoMock.EXPECT().
		Resolve(ctx, incidentID, "dispatcher-7").
		Return(nil, models.ErrInvalidTransition).
		Times(1)

	// Действие
	incident, err := service.ResolveIncident(ctx, incidentID, "dispatcher-7")

	// Проверки
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
	assert.Nil(t, incident)
}
