package models

import (
	"time"

	"github.com/google/uuid"
)

// GeoPoint - координата маршрута
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Dispatch - назначение экипажа на инцидент.
// Запись не обновляется: при повторной отправке создается новая, старая деактивируется
type Dispatch struct {
	ID           uuid.UUID  `json:"id"`
	IncidentID   string     `json:"incident_id"`
	UnitID       uuid.UUID  `json:"unit_id"`
	DispatchedBy string     `json:"dispatched_by"`
	ETAMinutes   int        `json:"eta_minutes"`
	Route        []GeoPoint `json:"route"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DispatchPlan - рассчитанный маршрут экипажа до инцидента перед коммитом
type DispatchPlan struct {
	UnitID     uuid.UUID  `json:"unit_id"`
	Route      []GeoPoint `json:"route"`
	ETAMinutes int        `json:"eta_minutes"`
}

// DispatchResult - исход атомарного коммита отправки
type DispatchResult struct {
	Incident        *Incident   `json:"incident"`
	Units           []*Unit     `json:"units"`
	Dispatches      []*Dispatch `json:"dispatches"`
	DispatchedCount int         `json:"dispatched_count"`
}
