package models

import (
	"time"

	"github.com/google/uuid"
)

// Тип экстренной службы
type UnitType string

const (
	UnitFireTruck UnitType = "fire_truck"
	UnitAmbulance UnitType = "ambulance"
	UnitPoliceCar UnitType = "police_car"
	UnitRescue    UnitType = "rescue"
	UnitHazmat    UnitType = "hazmat"
)

// Статус экипажа
type UnitStatus string

const (
	UnitAvailable    UnitStatus = "available"
	UnitDispatched   UnitStatus = "dispatched"
	UnitOutOfService UnitStatus = "out_of_service"
)

// Unit - экипаж экстренной службы.
// Инвариант: экипаж в статусе dispatched имеет ровно одну активную запись Dispatch
type Unit struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Type      UnitType   `json:"type"`
	Status    UnitStatus `json:"status"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ValidUnitType проверяет принадлежность к перечислению типов экипажей
func ValidUnitType(t UnitType) bool {
	switch t {
	case UnitFireTruck, UnitAmbulance, UnitPoliceCar, UnitRescue, UnitHazmat:
		return true
	}
	return false
}
