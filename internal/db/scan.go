package db

import (
	"encoding/json"
	"fmt"
	"time"

	"punchclock/internal/db/models"
	"punchclock/internal/timeval"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPunch(row rowScanner) (*models.Punch, error) {
	p := &models.Punch{}
	var inLoc, outLoc, cps []byte
	err := row.Scan(
		&p.ID, &p.UserID, &p.CompanyCode, &p.StaffID, &p.Email,
		&p.PunchIn, &p.PunchInAt, &inLoc, &p.PunchInPhotoPath, &p.PunchInPhotoURL, &p.PunchInPhotoDataURL,
		&p.PunchOut, &p.PunchOutAt, &outLoc, &p.PunchOutPhotoPath, &p.PunchOutPhotoURL, &p.PunchOutPhotoDataURL,
		&cps, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.PunchInLocation, err = decodeGeoPoint(inLoc); err != nil {
		return nil, err
	}
	if p.PunchOutLocation, err = decodeGeoPoint(outLoc); err != nil {
		return nil, err
	}
	if len(cps) > 0 {
		if err := json.Unmarshal(cps, &p.Checkpoints); err != nil {
			return nil, fmt.Errorf("error decoding checkpoints: %w", err)
		}
	}
	return p, nil
}

func decodeGeoPoint(b []byte) (*models.GeoPoint, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	pt := &models.GeoPoint{}
	if err := json.Unmarshal(b, pt); err != nil {
		return nil, fmt.Errorf("error decoding location: %w", err)
	}
	return pt, nil
}

// jsonOrNil encodes v as JSON text for a jsonb parameter, or nil for SQL NULL.
func jsonOrNil(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	if s == "null" {
		return nil, nil
	}
	return &s, nil
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// timeOut wraps a close timestamp in the store's native jsonb encoding.
func timeOut(t time.Time) timeval.Value {
	return timeval.FromTime(t)
}
