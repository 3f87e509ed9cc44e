package domain

import "math"

const earthRadiusKm = 6371.0

// Artisan is the matching view of a service-provider account.
type Artisan struct {
	ID          int64    `json:"id"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Services    []string `json:"services"`
	Subservices []string `json:"subservices,omitempty"`
	Active      bool     `json:"active"`
}

// Offers reports whether the artisan provides service and, when given,
// subservice.
func (a *Artisan) Offers(service, subservice string) bool {
	if !contains(a.Services, service) {
		return false
	}
	return subservice == "" || contains(a.Subservices, subservice)
}

// DistanceKm is the great-circle distance between two points.
func (l Location) DistanceKm(other Location) float64 {
	lat1 := l.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (other.Longitude - l.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
