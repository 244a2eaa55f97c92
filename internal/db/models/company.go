package models

import "time"

// Company is a read-only lookup entity keyed by company code.
type Company struct {
	Code                 string    `db:"code" json:"code"`
	Name                 string    `db:"name" json:"name"`
	GeofenceCenter       *GeoPoint `db:"geofence_center" json:"geofenceCenter,omitempty"`
	GeofenceRadiusMeters *float64  `db:"geofence_radius_meters" json:"geofenceRadiusMeters,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"createdAt"`
}
