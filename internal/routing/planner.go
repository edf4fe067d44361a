package routing

import (
	"context"
	"math"

	"github.com/emergo/incident_dispatch_service/internal/geo"
	"github.com/emergo/incident_dispatch_service/internal/models"
)

// Planner рассчитывает маршрут и время прибытия экипажа к инциденту.
// Боевая реализация может ходить во внешний сервис маршрутизации,
// по умолчанию используется офлайн-оценка по прямой
type Planner interface {
	Plan(ctx context.Context, from, to models.GeoPoint) ([]models.GeoPoint, int, error)
}

// StraightLinePlanner строит маршрут по прямой с равномерной интерполяцией
// и оценивает ETA по средней скорости экипажа
type StraightLinePlanner struct {
	speedKmh float64
	segments int
}

// NewStraightLinePlanner создает новый StraightLinePlanner
func NewStraightLinePlanner(speedKmh float64) *StraightLinePlanner {
	if speedKmh <= 0 {
		speedKmh = 40
	}
	return &StraightLinePlanner{
		speedKmh: speedKmh,
		segments: 8,
	}
}

// Plan возвращает точки маршрута от from до to и ETA в минутах (округление вверх, минимум 1)
func (p *StraightLinePlanner) Plan(_ context.Context, from, to models.GeoPoint) ([]models.GeoPoint, int, error) {
	route := make([]models.GeoPoint, 0, p.segments+1)
	for i := 0; i <= p.segments; i++ {
		t := float64(i) / float64(p.segments)
		route = append(route, models.GeoPoint{
			Latitude:  from.Latitude + (to.Latitude-from.Latitude)*t,
			Longitude: from.Longitude + (to.Longitude-from.Longitude)*t,
		})
	}

	distanceKm := geo.Distance(from.Latitude, from.Longitude, to.Latitude, to.Longitude) / 1000
	eta := int(math.Ceil(distanceKm / p.speedKmh * 60))
	if eta < 1 {
		eta = 1
	}
	return route, eta, nil
}
