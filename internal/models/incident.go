package models

import (
	"time"

	"github.com/google/uuid"
)

// Тип инцидента
type IncidentType string

const (
	IncidentFire     IncidentType = "fire"
	IncidentMedical  IncidentType = "medical"
	IncidentAccident IncidentType = "accident"
	IncidentCrime    IncidentType = "crime"
	IncidentOther    IncidentType = "other"
)

// Уровень серьезности инцидента
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Статус инцидента. Переходы только вперед: pending -> responding -> resolved
type IncidentStatus string

const (
	StatusPending    IncidentStatus = "pending"
	StatusResponding IncidentStatus = "responding"
	StatusResolved   IncidentStatus = "resolved"
)

// Incident - инцидент с человекочитаемым ID формата INC-YYYYMMDD-NNNN
type Incident struct {
	ID                string         `json:"id"`
	Type              IncidentType   `json:"type"`
	Severity          Severity       `json:"severity"`
	Description       string         `json:"description"`
	Latitude          float64        `json:"latitude"`
	Longitude         float64        `json:"longitude"`
	Address           *string        `json:"address,omitempty"`
	Status            IncidentStatus `json:"status"`
	VerificationCount int            `json:"verification_count"`
	ReportedBy        *string        `json:"reported_by,omitempty"`
	ReportedAt        time.Time      `json:"reported_at"`
	IsVerified        bool           `json:"is_verified"`
	AssignedUnitIDs   []uuid.UUID    `json:"assigned_unit_ids,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IncidentReport - входные данные одного сообщения о происшествии
type IncidentReport struct {
	Type        IncidentType
	Severity    Severity
	Description string
	Latitude    float64
	Longitude   float64
	Address     *string
	ReportedBy  *string
}

// Результат процедуры слияния: новый инцидент или инкремент существующего
const (
	ReportCreated = "created"
	ReportMerged  = "merged"
)

// ReportResult - исход reportIncident
type ReportResult struct {
	Status   string    `json:"status"`
	Incident *Incident `json:"incident"`
}

// IncidentFilter - фильтр для выборки инцидентов
type IncidentFilter struct {
	Status IncidentStatus
	Type   IncidentType
}

// ValidIncidentType проверяет принадлежность к перечислению типов
func ValidIncidentType(t IncidentType) bool {
	switch t {
	case IncidentFire, IncidentMedical, IncidentAccident, IncidentCrime, IncidentOther:
		return true
	}
	return false
}

// ValidSeverity проверяет принадлежность к перечислению серьезности
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}
