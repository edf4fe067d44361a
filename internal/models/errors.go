package models

import "errors"

// Сигнальные ошибки доменного слоя. Хэндлеры отображают их в HTTP-статусы через errors.Is
var (
	ErrIncidentNotFound   = errors.New("incident not found")
	ErrUnitNotFound       = errors.New("unit not found")
	ErrUnitUnavailable    = errors.New("unit is not available for dispatch")
	ErrIncidentClosed     = errors.New("incident is not open for dispatch")
	ErrInvalidCoordinates = errors.New("coordinates are out of range or not finite")
	ErrInvalidTransition  = errors.New("status transition is not allowed")
)
