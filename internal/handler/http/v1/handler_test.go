package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emergo/incident_dispatch_service/internal/config"
	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/emergo/incident_dispatch_service/internal/service/mocks"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testJWTSecret = "test-jwt-secret"

type handlerMocks struct {
	incidents  *mocks.MockIncidentService
	dispatches *mocks.MockDispatchService
	units      *mocks.MockUnitService
	audit      *mocks.MockAuditService
}

// newTestHandler создает новый экземпляр Handler с мокированными сервисами
func newTestHandler(t *testing.T) (handlerMocks, *gin.Engine) {
	ctrl := gomock.NewController(t)
	m := handlerMocks{
		incidents:  mocks.NewMockIncidentService(ctrl),
		dispatches: mocks.NewMockDispatchService(ctrl),
		units:      mocks.NewMockUnitService(ctrl),
		audit:      mocks.NewMockAuditService(ctrl),
	}

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{
		APIKeys:   []string{"test-api-key"},
		JWTSecret: testJWTSecret,
	}

	handler := NewHandler(m.incidents, m.dispatches, m.units, m.audit, logger, cfg)

	// Настройка Gin роутера для тестов
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api, nil)

	return m, router
}

// makeRequest - вспомогательная функция для выполнения HTTP-запросов
func makeRequest(router *gin.Engine, method, url string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req := httptest.NewRequest(method, url, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func apiKeyHeaders() map[string]string {
	return map[string]string{"X-API-Key": "test-api-key"}
}

// dispatcherHeaders выпускает bearer токен диспетчера для привилегированных маршрутов
func dispatcherHeaders(t *testing.T) map[string]string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dispatcher-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	return map[string]string{
		"X-API-Key":     "test-api-key",
		"Authorization": "Bearer " + signed,
	}
}

func TestHealthCheck(t *testing.T) {
	// Подготовка
	_, router := newTestHandler(t)

	// Действие
	w := makeRequest(router, http.MethodGet, "/api/v1/system/health", nil, nil)

	// Проверки
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestReportIncident_Created(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	body := map[string]any{
		"type":        "fire",
		"severity":    "high",
		"description": "Smoke from third floor window",
		"latitude":    40.7589,
		"longitude":   -73.9851,
	}

	// Ожидания
	m.incidents.EXPECT().
		ReportIncident(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, report *models.IncidentReport) (*models.ReportResult, error) {
			assert.Equal(t, models.IncidentFire, report.Type)
			assert.Nil(t, report.ReportedBy) // Анонимное сообщение
			return &models.ReportResult{
				Status: models.ReportCreated,
				Incident: &models.Incident{
					ID:                "INC-20260115-0001",
					VerificationCount: 1,
				},
			}, nil
		}).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/report", body, apiKeyHeaders())

	// Проверки
	require.Equal(t, http.StatusCreated, w.Code)

	var resp ReportIncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ReportCreated, resp.Status)
	assert.Equal(t, "INC-20260115-0001", resp.IncidentID)
	assert.Equal(t, 1, resp.VerificationCount)
}

func TestReportIncident_Merged(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	body := map[string]any{
		"type":      "fire",
		"severity":  "high",
		"latitude":  40.7591,
		"longitude": -73.9851,
	}

	// Ожидания
	m.incidents.EXPECT().
		ReportIncident(gomock.Any(), gomock.Any()).
		Return(&models.ReportResult{
			Status: models.ReportMerged,
			Incident: &models.Incident{
				ID:                "INC-20260115-0001",
				VerificationCount: 2,
			},
		}, nil).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/report", body, apiKeyHeaders())

	// Проверки: слияние отвечает 200, а не 201
	require.Equal(t, http.StatusOK, w.Code)

	var resp ReportIncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ReportMerged, resp.Status)
	assert.Equal(t, 2, resp.VerificationCount)
}

func TestReportIncident_WithBearerIdentity(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	body := map[string]any{
		"type":      "medical",
		"severity":  "critical",
		"latitude":  40.7589,
		"longitude": -73.9851,
	}

	// Ожидания: идентичность из токена прикрепляется к сообщению
	m.incidents.EXPECT().
		ReportIncident(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, report *models.IncidentReport) (*models.ReportResult, error) {
			require.NotNil(t, report.ReportedBy)
			assert.Equal(t, "dispatcher-7", *report.ReportedBy)
			return &models.ReportResult{
				Status:   models.ReportCreated,
				Incident: &models.Incident{ID: "INC-20260115-0002", VerificationCount: 1},
			}, nil
		}).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/report", body, dispatcherHeaders(t))

	// Проверки
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestReportIncident_ValidationError(t *testing.T) {
	// Подготовка
	_, router := newTestHandler(t)
	body := map[string]any{
		"type":      "flood", // нет в перечислении типов
		"severity":  "high",
		"latitude":  40.7589,
		"longitude": -73.9851,
	}

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/report", body, apiKeyHeaders())

	// Проверки
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportIncident_MissingAPIKey(t *testing.T) {
	// Подготовка
	_, router := newTestHandler(t)
	body := map[string]any{
		"type":      "fire",
		"severity":  "high",
		"latitude":  40.7589,
		"longitude": -73.9851,
	}

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/report", body, nil)

	// Проверки
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetIncident_Success(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	incident := &models.Incident{
		ID:       "INC-20260115-0001",
		Type:     models.IncidentFire,
		Severity: models.SeverityHigh,
		Status:   models.StatusPending,
	}

	// Ожидания
	m.incidents.EXPECT().
		GetIncident(gomock.Any(), incident.ID).
		Return(incident, nil).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodGet, "/api/v1/incidents/INC-20260115-0001", nil, apiKeyHeaders())

	// Проверки
	require.Equal(t, http.StatusOK, w.Code)

	var resp IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, incident.ID, resp.ID)
	assert.Equal(t, "fire", resp.Type)
}

func TestGetIncident_NotFound(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)

	// Ожидания
	m.incidents.EXPECT().
		GetIncident(gomock.Any(), "INC-20260115-9999").
		Return(nil, fmt.Errorf("service: could not get incident: %w", models.ErrIncidentNotFound)).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodGet, "/api/v1/incidents/INC-20260115-9999", nil, apiKeyHeaders())

	// Проверки
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListIncidents_Success(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	incidents := []*models.Incident{
		{ID: "INC-20260115-0001", Status: models.StatusPending},
		{ID: "INC-20260115-0002", Status: models.StatusPending},
	}

	// Ожидания
	m.incidents.EXPECT().
		ListIncidents(gomock.Any(), models.IncidentFilter{Status: models.StatusPending}, 1, 20).
		Return(incidents, nil).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodGet, "/api/v1/incidents?status=pending", nil, apiKeyHeaders())

	// Проверки
	require.Equal(t, http.StatusOK, w.Code)

	var resp []IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)
}

func TestVerifyIncident_Success(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	verified := &models.Incident{
		ID:         "INC-20260115-0001",
		IsVerified: true,
	}

	// Ожидания
	m.incidents.EXPECT().
		VerifyIncident(gomock.Any(), verified.ID, "dispatcher-7").
		Return(verified, nil).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/INC-20260115-0001/verify", nil, dispatcherHeaders(t))

	// Проверки
	require.Equal(t, http.StatusOK, w.Code)

	var resp VerifyIncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Incident.IsVerified)
}

func TestVerifyIncident_MissingBearerToken(t *testing.T) {
	// Подготовка
	_, router := newTestHandler(t)

	// Действие: только API-ключ, без токена диспетчера
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/INC-20260115-0001/verify", nil, apiKeyHeaders())

	// Проверки
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResolveIncident_AlreadyResolved(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)

	// Ожидания
	m.incidents.EXPECT().
		ResolveIncident(gomock.Any(), "INC-20260115-0001", "dispatcher-7").
		Return(nil, fmt.Errorf("service: could not resolve incident: %w", models.ErrInvalidTransition)).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/INC-20260115-0001/resolve", nil, dispatcherHeaders(t))

	// Проверки
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPreviewRoutes_Success(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	unitID := uuid.New()
	body := map[string]any{
		"incident_id": "INC-20260115-0001",
		"unit_ids":    []string{unitID.String()},
	}
	plans := []*models.DispatchPlan{{
		UnitID:     unitID,
		Route:      []models.GeoPoint{{Latitude: 40.75, Longitude: -73.99}},
		ETAMinutes: 6,
	}}

	// Ожидания
	m.dispatches.EXPECT().
		PreviewRoutes(gomock.Any(), "INC-20260115-0001", []uuid.UUID{unitID}).
		Return(plans, nil).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/dispatch/preview", body, dispatcherHeaders(t))

	// Проверки
	require.Equal(t, http.StatusOK, w.Code)

	var resp []*RoutePlanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, unitID, resp[0].UnitID)
	assert.Equal(t, 6, resp[0].ETAMinutes)
}

func TestCreateDispatch_Success(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	unitID := uuid.New()
	body := map[string]any{
		"incident_id": "INC-20260115-0001",
		"unit_ids":    []string{unitID.String()},
	}
	result := &models.DispatchResult{
		Incident: &models.Incident{ID: "INC-20260115-0001", Status: models.StatusResponding},
		Units:    []*models.Unit{{ID: unitID, Status: models.UnitDispatched}},
		Dispatches: []*models.Dispatch{{
			ID:         uuid.New(),
			IncidentID: "INC-20260115-0001",
			UnitID:     unitID,
			ETAMinutes: 6,
			Active:     true,
		}},
		DispatchedCount: 1,
	}

	// Ожидания
	m.dispatches.EXPECT().
		CreateDispatch(gomock.Any(), "INC-20260115-0001", []uuid.UUID{unitID}, "dispatcher-7").
		Return(result, nil).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/dispatch", body, dispatcherHeaders(t))

	// Проверки
	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateDispatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.DispatchedCount)
	require.Len(t, resp.Dispatches, 1)
	assert.Equal(t, unitID, resp.Dispatches[0].UnitID)
}

func TestCreateDispatch_UnitUnavailable(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	unitID := uuid.New()
	body := map[string]any{
		"incident_id": "INC-20260115-0001",
		"unit_ids":    []string{unitID.String()},
	}

	// Ожидания
	m.dispatches.EXPECT().
		CreateDispatch(gomock.Any(), "INC-20260115-0001", []uuid.UUID{unitID}, "dispatcher-7").
		Return(nil, fmt.Errorf("service: could not commit dispatch: %w", models.ErrUnitUnavailable)).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/dispatch", body, dispatcherHeaders(t))

	// Проверки: конфликт доступности не создает ни одной записи
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateDispatch_MissingBearerToken(t *testing.T) {
	// Подготовка
	_, router := newTestHandler(t)
	body := map[string]any{
		"incident_id": "INC-20260115-0001",
		"unit_ids":    []string{uuid.NewString()},
	}

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/dispatch", body, apiKeyHeaders())

	// Проверки
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateDispatch_InvalidUnitID(t *testing.T) {
	// Подготовка
	_, router := newTestHandler(t)
	body := map[string]any{
		"incident_id": "INC-20260115-0001",
		"unit_ids":    []string{"not-a-uuid"},
	}

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/dispatch", body, dispatcherHeaders(t))

	// Проверки
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateUnit_Success(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	body := map[string]any{
		"name":      "Engine 1",
		"type":      "fire_truck",
		"latitude":  40.75,
		"longitude": -73.99,
	}

	// Ожидания
	m.units.EXPECT().
		CreateUnit(gomock.Any(), gomock.Any(), "dispatcher-7").
		DoAndReturn(func(_ context.Context, unit *models.Unit, _ string) error {
			unit.ID = uuid.New()
			unit.Status = models.UnitAvailable
			return nil
		}).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/units", body, dispatcherHeaders(t))

	// Проверки
	require.Equal(t, http.StatusCreated, w.Code)

	var resp UnitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Engine 1", resp.Name)
	assert.Equal(t, "available", resp.Status)
}

func TestListUnits_Success(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	units := []*models.Unit{
		{ID: uuid.New(), Name: "Engine 1", Type: models.UnitFireTruck, Status: models.UnitAvailable},
		{ID: uuid.New(), Name: "Ambulance 3", Type: models.UnitAmbulance, Status: models.UnitDispatched},
	}

	// Ожидания
	m.units.EXPECT().
		ListUnits(gomock.Any()).
		Return(units, nil).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodGet, "/api/v1/units", nil, apiKeyHeaders())

	// Проверки
	require.Equal(t, http.StatusOK, w.Code)

	var resp []UnitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)
}

func TestReleaseUnit_Success(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	unitID := uuid.New()
	released := &models.Unit{
		ID:     unitID,
		Name:   "Engine 1",
		Type:   models.UnitFireTruck,
		Status: models.UnitAvailable,
	}

	// Ожидания
	m.units.EXPECT().
		ReleaseUnit(gomock.Any(), unitID, "dispatcher-7").
		Return(released, nil).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodPost, "/api/v1/units/"+unitID.String()+"/release", nil, dispatcherHeaders(t))

	// Проверки
	require.Equal(t, http.StatusOK, w.Code)

	var resp UnitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "available", resp.Status)
}

func TestListAudit_Success(t *testing.T) {
	// Подготовка
	m, router := newTestHandler(t)
	entries := []*models.AuditLogEntry{
		{ID: 1, UserID: "anonymous", Action: models.AuditReportIncident, TableName: "incidents", RecordID: "INC-20260115-0001"},
		{ID: 2, UserID: "dispatcher-7", Action: models.AuditDispatchUnit, TableName: "dispatches", RecordID: uuid.NewString()},
	}

	// Ожидания
	m.audit.EXPECT().
		ListAudit(gomock.Any(), "incidents", "INC-20260115-0001", 100).
		Return(entries, nil).
		Times(1)

	// Действие
	w := makeRequest(router, http.MethodGet, "/api/v1/audit?table=incidents&record_id=INC-20260115-0001", nil, dispatcherHeaders(t))

	// Проверки
	require.Equal(t, http.StatusOK, w.Code)

	var resp []*AuditEntryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "REPORT_INCIDENT", resp[0].Action)
}
