package v1

import (
	"github.com/emergo/incident_dispatch_service/internal/models"
)

// DTOToIncidentReport преобразует DTO сообщения в доменную модель.
// reportedBy передается отдельно: идентичность берется из токена, не из тела
func DTOToIncidentReport(dto ReportIncidentRequest, reportedBy *string) *models.IncidentReport {
	return &models.IncidentReport{
		Type:        models.IncidentType(dto.Type),
		Severity:    models.Severity(dto.Severity),
		Description: dto.Description,
		Latitude:    dto.Latitude,
		Longitude:   dto.Longitude,
		Address:     dto.Address,
		ReportedBy:  reportedBy,
	}
}

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа
func ModelToIncidentResponse(model *models.Incident) *IncidentResponse {
	return &IncidentResponse{
		ID:                model.ID,
		Type:              string(model.Type),
		Severity:          string(model.Severity),
		Description:       model.Description,
		Latitude:          model.Latitude,
		Longitude:         model.Longitude,
		Address:           model.Address,
		Status:            string(model.Status),
		VerificationCount: model.VerificationCount,
		ReportedBy:        model.ReportedBy,
		ReportedAt:        model.ReportedAt,
		IsVerified:        model.IsVerified,
		AssignedUnitIDs:   model.AssignedUnitIDs,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
	}
}

// ModelsToIncidentResponses преобразует слайс моделей в слайс DTO
func ModelsToIncidentResponses(incidents []*models.Incident) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(incidents))
	for i, incident := range incidents {
		responses[i] = ModelToIncidentResponse(incident)
	}
	return responses
}

// ModelToUnitResponse преобразует модель экипажа в DTO для ответа
func ModelToUnitResponse(model *models.Unit) *UnitResponse {
	return &UnitResponse{
		ID:        model.ID,
		Name:      model.Name,
		Type:      string(model.Type),
		Status:    string(model.Status),
		Latitude:  model.Latitude,
		Longitude: model.Longitude,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// ModelsToUnitResponses преобразует слайс моделей экипажей в слайс DTO
func ModelsToUnitResponses(units []*models.Unit) []*UnitResponse {
	responses := make([]*UnitResponse, len(units))
	for i, unit := range units {
		responses[i] = ModelToUnitResponse(unit)
	}
	return responses
}

// PlanToRouteResponse преобразует рассчитанный маршрут в DTO
func PlanToRouteResponse(plan *models.DispatchPlan) *RoutePlanResponse {
	return &RoutePlanResponse{
		UnitID:     plan.UnitID,
		Route:      pointsToDTO(plan.Route),
		ETAMinutes: plan.ETAMinutes,
	}
}

// ModelToDispatchResponse преобразует запись отправки в DTO
func ModelToDispatchResponse(model *models.Dispatch) *DispatchResponse {
	return &DispatchResponse{
		DispatchID: model.ID,
		UnitID:     model.UnitID,
		ETAMinutes: model.ETAMinutes,
		Route:      pointsToDTO(model.Route),
		CreatedAt:  model.CreatedAt,
	}
}

// ModelToAuditResponse преобразует запись журнала аудита в DTO
func ModelToAuditResponse(model *models.AuditLogEntry) *AuditEntryResponse {
	return &AuditEntryResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		Action:    string(model.Action),
		TableName: model.TableName,
		RecordID:  model.RecordID,
		OldData:   model.OldData,
		NewData:   model.NewData,
		CreatedAt: model.CreatedAt,
	}
}

func pointsToDTO(points []models.GeoPoint) []GeoPointDTO {
	out := make([]GeoPointDTO, len(points))
	for i, p := range points {
		out[i] = GeoPointDTO{Latitude: p.Latitude, Longitude: p.Longitude}
	}
	return out
}
