package v1

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReportIncidentRequest DTO сообщения о происшествии
// @Description DTO сообщения о происшествии
type ReportIncidentRequest struct {
	Type        string  `json:"type" validate:"required,oneof=fire medical accident crime other"`
	Severity    string  `json:"severity" validate:"required,oneof=low medium high critical"`
	Description string  `json:"description,omitempty"`
	Latitude    float64 `json:"latitude" validate:"latitude"`
	Longitude   float64 `json:"longitude" validate:"longitude"`
	Address     *string `json:"address,omitempty"`
}

// ReportIncidentResponse DTO исхода процедуры слияния
// @Description DTO исхода процедуры слияния
type ReportIncidentResponse struct {
	Status            string `json:"status"`
	IncidentID        string `json:"incident_id"`
	VerificationCount int    `json:"verification_count"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	Severity          string      `json:"severity"`
	Description       string      `json:"description,omitempty"`
	Latitude          float64     `json:"latitude"`
	Longitude         float64     `json:"longitude"`
	Address           *string     `json:"address,omitempty"`
	Status            string      `json:"status"`
	VerificationCount int         `json:"verification_count"`
	ReportedBy        *string     `json:"reported_by,omitempty"`
	ReportedAt        time.Time   `json:"reported_at"`
	IsVerified        bool        `json:"is_verified"`
	AssignedUnitIDs   []uuid.UUID `json:"assigned_unit_ids,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// GeoPointDTO - точка маршрута
type GeoPointDTO struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// PreviewRoutesRequest DTO предпросмотра маршрутов
// @Description DTO предпросмотра маршрутов
type PreviewRoutesRequest struct {
	IncidentID string   `json:"incident_id" validate:"required"`
	UnitIDs    []string `json:"unit_ids" validate:"required,min=1,dive,uuid"`
}

// RoutePlanResponse DTO одного рассчитанного маршрута
// @Description DTO одного рассчитанного маршрута
type RoutePlanResponse struct {
	UnitID     uuid.UUID     `json:"unit_id"`
	Route      []GeoPointDTO `json:"route"`
	ETAMinutes int           `json:"eta_minutes"`
}

// CreateDispatchRequest DTO коммита отправки
// @Description DTO коммита отправки
type CreateDispatchRequest struct {
	IncidentID string   `json:"incident_id" validate:"required"`
	UnitIDs    []string `json:"unit_ids" validate:"required,min=1,dive,uuid"`
}

// DispatchResponse DTO одной записи отправки
// @Description DTO одной записи отправки
type DispatchResponse struct {
	DispatchID uuid.UUID     `json:"dispatch_id"`
	UnitID     uuid.UUID     `json:"unit_id"`
	ETAMinutes int           `json:"eta_minutes"`
	Route      []GeoPointDTO `json:"route"`
	CreatedAt  time.Time     `json:"created_at"`
}

// CreateDispatchResponse DTO результата коммита отправки
// @Description DTO результата коммита отправки
type CreateDispatchResponse struct {
	Success         bool                `json:"success"`
	Dispatches      []*DispatchResponse `json:"dispatches"`
	DispatchedCount int                 `json:"dispatched_count"`
}

// VerifyIncidentResponse DTO результата подтверждения инцидента
// @Description DTO результата подтверждения инцидента
type VerifyIncidentResponse struct {
	Success  bool              `json:"success"`
	Incident *IncidentResponse `json:"incident"`
}

// CreateUnitRequest DTO регистрации экипажа
// @Description DTO регистрации экипажа
type CreateUnitRequest struct {
	Name      string  `json:"name" validate:"required,min=2,max=255"`
	Type      string  `json:"type" validate:"required,oneof=fire_truck ambulance police_car rescue hazmat"`
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// UnitResponse DTO для ответа с информацией об экипаже
// @Description DTO для ответа с информацией об экипаже
type UnitResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEntryResponse DTO записи журнала аудита
// @Description DTO записи журнала аудита
type AuditEntryResponse struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Action    string          `json:"action"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	OldData   json.RawMessage `json:"old_data,omitempty"`
	NewData   json.RawMessage `json:"new_data"`
	CreatedAt time.Time       `json:"created_at"`
}
