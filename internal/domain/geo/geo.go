// Package geo computes great-circle distances and formats them for display.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by HaversineKm.
const EarthRadiusKm = 6371.0

const (
	metreThresholdKm   = 1.0
	decimalThresholdKm = 10.0
)

// HaversineKm returns the great-circle distance in kilometres between two
// points given in decimal degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// FormatDistance renders km as "500 m", "5.3 km" or "42 km".
// Halves round away from zero, and a value that rounds up to the next
// band's threshold is shown in that band ("1.0 km", not "1000 m").
func FormatDistance(km float64) string {
	if m := math.Round(km * 1000); m < metreThresholdKm*1000 {
		return fmt.Sprintf("%.0f m", m)
	}
	if tenths := math.Round(km * 10); tenths < decimalThresholdKm*10 {
		return fmt.Sprintf("%.1f km", tenths/10)
	}
	return fmt.Sprintf("%.0f km", math.Round(km))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
