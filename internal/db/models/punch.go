package models

import (
	"time"

	"github.com/google/uuid"

	"punchclock/internal/timeval"
)

// GeoPoint is a captured device location.
type GeoPoint struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Checkpoint is an embedded photo+location entry logged during an open punch.
// The list on a punch is capped so the record stays under the store's document
// size ceiling.
type Checkpoint struct {
	ID           string   `json:"id"`
	CreatedAt    string   `json:"createdAt"` // ISO text, as written by the mobile clients
	Location     GeoPoint `json:"location"`
	PhotoPath    string   `json:"photoPath,omitempty"`
	PhotoURL     string   `json:"photoUrl,omitempty"`
	PhotoDataURL string   `json:"photoDataUrl,omitempty"` // legacy embedded image
}

// Punch is one work session. PunchIn/PunchOut keep whatever timestamp encoding
// the record was written with; PunchInAt/PunchOutAt are typed columns populated
// for current-generation rows and drive the indexed query paths. Legacy
// imported rows leave them NULL, which is why every range query has a broad
// fallback.
type Punch struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"userId"`
	CompanyCode *string   `db:"company_code" json:"companyCode,omitempty"`
	StaffID     *string   `db:"staff_id" json:"staffId,omitempty"`
	Email       *string   `db:"email" json:"email,omitempty"`

	PunchIn             timeval.Value `db:"punch_in" json:"punchIn"`
	PunchInAt           *time.Time    `db:"punch_in_at" json:"punchInAt,omitempty"`
	PunchInLocation     *GeoPoint     `db:"punch_in_location" json:"punchInLocation,omitempty"`
	PunchInPhotoPath    *string       `db:"punch_in_photo_path" json:"punchInPhotoPath,omitempty"`
	PunchInPhotoURL     *string       `db:"punch_in_photo_url" json:"punchInPhotoUrl,omitempty"`
	PunchInPhotoDataURL *string       `db:"punch_in_photo_data_url" json:"punchInPhotoDataUrl,omitempty"` // legacy

	PunchOut             timeval.Value `db:"punch_out" json:"punchOut"`
	PunchOutAt           *time.Time    `db:"punch_out_at" json:"punchOutAt,omitempty"`
	PunchOutLocation     *GeoPoint     `db:"punch_out_location" json:"punchOutLocation,omitempty"`
	PunchOutPhotoPath    *string       `db:"punch_out_photo_path" json:"punchOutPhotoPath,omitempty"`
	PunchOutPhotoURL     *string       `db:"punch_out_photo_url" json:"punchOutPhotoUrl,omitempty"`
	PunchOutPhotoDataURL *string       `db:"punch_out_photo_data_url" json:"punchOutPhotoDataUrl,omitempty"` // legacy

	Checkpoints []Checkpoint `db:"checkpoints" json:"checkpoints"`
	Version     int64        `db:"version" json:"version"`
	CreatedAt   time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updatedAt"`
}

// Open reports whether the punch has no end timestamp yet.
func (p *Punch) Open() bool {
	return p.PunchOut.IsZero()
}

// PhotoRefUpdate rewrites photo reference fields on a punch. Nil pointer
// fields are left untouched; the Clear flags null out legacy embedded images
// once their externalized reference is in place. A nil Checkpoints slice
// leaves the stored list as is.
type PhotoRefUpdate struct {
	PunchInPhotoPath  *string
	PunchInPhotoURL   *string
	ClearPunchInData  bool
	PunchOutPhotoPath *string
	PunchOutPhotoURL  *string
	ClearPunchOutData bool
	Checkpoints       []Checkpoint
}
