// Package punch is the session store: it reconciles punch records across
// record generations, enforces the open-session and checkpoint invariants, and
// serves the aggregation queries with indexed primary paths and bounded
// broad-scan fallbacks.
package punch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"punchclock/internal/db"
	"punchclock/internal/db/models"
	"punchclock/internal/geofence"
	"punchclock/internal/identity"
	"punchclock/internal/media"
	"punchclock/internal/timeval"
)

// Store is the record-store contract the service needs. *db.DB implements it.
type Store interface {
	CreatePunch(ctx context.Context, p *models.Punch) error
	GetOpenPunch(ctx context.Context, userID string) (*models.Punch, error)
	GetPunchByID(ctx context.Context, id uuid.UUID) (*models.Punch, error)
	ClosePunch(ctx context.Context, id uuid.UUID, version int64, at time.Time, loc models.GeoPoint, photoPath, photoURL string) error
	UpdateCheckpoints(ctx context.Context, id uuid.UUID, version int64, checkpoints []models.Checkpoint) error
	RewritePhotoRefs(ctx context.Context, id uuid.UUID, version int64, upd models.PhotoRefUpdate) error

	GetPunchesInRange(ctx context.Context, userID string, from, to time.Time) ([]*models.Punch, error)
	GetUserPunches(ctx context.Context, userID string, limit int) ([]*models.Punch, error)
	GetCompanyPunchesInRange(ctx context.Context, companyCode string, from, to time.Time) ([]*models.Punch, error)
	GetCompanyPunches(ctx context.Context, companyCode string, limit int) ([]*models.Punch, error)
	GetUserPunchesPage(ctx context.Context, userID string, limit int, before *time.Time) ([]*models.Punch, error)
	GetRecentPunches(ctx context.Context, userID string, limit int) ([]*models.Punch, error)
	GetRecentClosedPunches(ctx context.Context, userID string, limit int) ([]*models.Punch, error)

	GetCompanyByCode(ctx context.Context, code string) (*models.Company, error)
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// Capturer is the media capture contract. *media.Adapter implements it.
type Capturer interface {
	CaptureSelfie(ctx context.Context) ([]byte, error)
	CaptureLocation(ctx context.Context) (media.Location, error)
	Upload(ctx context.Context, path string, jpeg []byte) media.PhotoRef
	UploadDataURL(ctx context.Context, path, dataURL string) (media.PhotoRef, error)
}

const conflictRetries = 3

type Service struct {
	store   Store
	capture Capturer
	ids     identity.Provider
	now     func() time.Time
}

func New(store Store, capture Capturer, ids identity.Provider) *Service {
	return &Service{
		store:   store,
		capture: capture,
		ids:     ids,
		now:     time.Now,
	}
}

// GetOpenSessionID returns the id of the user's open session, if any. The
// primary lookup is the indexed open-punch query; when it fails, a bounded
// one-shot scan takes over. Transient store errors degrade to "none" rather
// than propagate.
func (s *Service) GetOpenSessionID(ctx context.Context, userID string) (uuid.UUID, bool) {
	p, err := s.store.GetOpenPunch(ctx, userID)
	if err == nil {
		if p == nil {
			return uuid.Nil, false
		}
		return p.ID, true
	}
	log.Ctx(ctx).Warn().Err(err).Msg("open punch lookup failed, using fallback scan")

	punches, ferr := s.store.GetUserPunches(ctx, userID, 25)
	if ferr != nil {
		log.Ctx(ctx).Warn().Err(ferr).Msg("open punch fallback scan failed")
		return uuid.Nil, false
	}
	for _, p := range punches {
		if p.Open() {
			return p.ID, true
		}
	}
	return uuid.Nil, false
}

// PunchIn starts a new session for the caller: selfie, location, company
// resolution, geofence check, then record creation with end fields null.
func (s *Service) PunchIn(ctx context.Context, companyCodeHint string) (uuid.UUID, error) {
	user, ok := s.ids.CurrentUser(ctx)
	if !ok {
		return uuid.Nil, ErrNotAuthenticated
	}
	if _, open := s.GetOpenSessionID(ctx, user.ID); open {
		return uuid.Nil, ErrSessionAlreadyOpen
	}

	photo, err := s.capture.CaptureSelfie(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	loc, err := s.capture.CaptureLocation(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	now := s.now()
	ref := s.capture.Upload(ctx, fmt.Sprintf("punches/%s/%d_in.jpg", user.ID, now.UnixMilli()), photo)

	companyCode, staffID := s.resolveProfile(ctx, user.ID, companyCodeHint)
	if err := s.validateGeofence(ctx, loc, companyCode); err != nil {
		return uuid.Nil, err
	}

	p := &models.Punch{
		ID:               uuid.New(),
		UserID:           user.ID,
		CompanyCode:      strPtr(companyCode),
		StaffID:          strPtr(staffID),
		Email:            strPtr(user.Email),
		PunchIn:          timeval.FromTime(now),
		PunchInAt:        &now,
		PunchInLocation:  locPoint(loc),
		PunchInPhotoPath: &ref.Path,
		PunchInPhotoURL:  strPtr(ref.URL),
		Checkpoints:      []models.Checkpoint{},
		Version:          1,
	}
	if err := s.store.CreatePunch(ctx, p); err != nil {
		if errors.Is(err, db.ErrDuplicateOpenPunch) {
			return uuid.Nil, ErrSessionAlreadyOpen
		}
		return uuid.Nil, fmt.Errorf("create punch: %w", err)
	}

	log.Ctx(ctx).Info().Str("user", user.ID).Str("punch", p.ID.String()).Msg("punched in")
	return p.ID, nil
}

// PunchOut closes the caller's session. The target must exist, belong to the
// caller, and still be open; the close is version guarded and retried a
// bounded number of times against concurrent checkpoint appends.
func (s *Service) PunchOut(ctx context.Context, sessionID uuid.UUID) error {
	user, ok := s.ids.CurrentUser(ctx)
	if !ok {
		return ErrNotAuthenticated
	}

	p, err := s.store.GetPunchByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if p == nil || p.UserID != user.ID {
		return ErrSessionNotFound
	}
	if !p.Open() {
		return ErrSessionAlreadyClosed
	}

	photo, err := s.capture.CaptureSelfie(ctx)
	if err != nil {
		return err
	}
	loc, err := s.capture.CaptureLocation(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	ref := s.capture.Upload(ctx, fmt.Sprintf("punches/%s/%s_out_%d.jpg", user.ID, sessionID, now.UnixMilli()), photo)

	// Geofence is validated again on the way out.
	companyCode, _ := s.resolveProfile(ctx, user.ID, "")
	if err := s.validateGeofence(ctx, loc, companyCode); err != nil {
		return err
	}

	version := p.Version
	err = retry.Do(func() error {
		err := s.store.ClosePunch(ctx, sessionID, version, now, *locPoint(loc), ref.Path, ref.URL)
		if errors.Is(err, db.ErrVersionConflict) {
			latest, lerr := s.store.GetPunchByID(ctx, sessionID)
			if lerr != nil {
				return retry.Unrecoverable(lerr)
			}
			if latest == nil {
				return retry.Unrecoverable(ErrSessionNotFound)
			}
			if !latest.Open() {
				return retry.Unrecoverable(ErrSessionAlreadyClosed)
			}
			version = latest.Version
			return err
		}
		if err != nil {
			return retry.Unrecoverable(err)
		}
		return nil
	}, retry.Attempts(conflictRetries), retry.LastErrorOnly(true), retry.Context(ctx))
	if errors.Is(err, db.ErrVersionConflict) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("close punch: %w", err)
	}

	log.Ctx(ctx).Info().Str("user", user.ID).Str("punch", sessionID.String()).Msg("punched out")
	return nil
}

// AddCheckpoint appends a photo+location entry to the caller's open session.
// With a nil sessionID the open session is resolved first. The append is a
// read-modify-write against the latest server state so concurrent appends
// from another device are never clobbered.
func (s *Service) AddCheckpoint(ctx context.Context, sessionID *uuid.UUID) (models.Checkpoint, error) {
	user, ok := s.ids.CurrentUser(ctx)
	if !ok {
		return models.Checkpoint{}, ErrNotAuthenticated
	}

	var id uuid.UUID
	if sessionID != nil {
		id = *sessionID
	} else {
		open, found := s.GetOpenSessionID(ctx, user.ID)
		if !found {
			return models.Checkpoint{}, ErrSessionNotFound
		}
		id = open
	}

	p, err := s.store.GetPunchByID(ctx, id)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("load session: %w", err)
	}
	if p == nil || p.UserID != user.ID {
		return models.Checkpoint{}, ErrSessionNotFound
	}
	if !p.Open() {
		return models.Checkpoint{}, ErrSessionAlreadyClosed
	}
	if len(p.Checkpoints) >= CheckpointLimit {
		return models.Checkpoint{}, ErrCheckpointLimit
	}

	photo, err := s.capture.CaptureSelfie(ctx)
	if err != nil {
		return models.Checkpoint{}, err
	}
	loc, err := s.capture.CaptureLocation(ctx)
	if err != nil {
		return models.Checkpoint{}, err
	}

	now := s.now()
	ref := s.capture.Upload(ctx, fmt.Sprintf("punches/%s/%s/checkpoints/%d_cp.jpg", user.ID, id, now.UnixMilli()), photo)

	cp := models.Checkpoint{
		ID:        uuid.NewString(),
		CreatedAt: now.UTC().Format(time.RFC3339),
		Location:  *locPoint(loc),
		PhotoPath: ref.Path,
		PhotoURL:  ref.URL,
	}

	version := p.Version
	list := appendCheckpoint(p.Checkpoints, cp)
	err = retry.Do(func() error {
		err := s.store.UpdateCheckpoints(ctx, id, version, list)
		if errors.Is(err, db.ErrVersionConflict) {
			latest, lerr := s.store.GetPunchByID(ctx, id)
			if lerr != nil {
				return retry.Unrecoverable(lerr)
			}
			if latest == nil {
				return retry.Unrecoverable(ErrSessionNotFound)
			}
			if !latest.Open() {
				return retry.Unrecoverable(ErrSessionAlreadyClosed)
			}
			if len(latest.Checkpoints) >= CheckpointLimit {
				return retry.Unrecoverable(ErrCheckpointLimit)
			}
			version = latest.Version
			list = appendCheckpoint(latest.Checkpoints, cp)
			return err
		}
		if err != nil {
			return retry.Unrecoverable(err)
		}
		return nil
	}, retry.Attempts(conflictRetries), retry.LastErrorOnly(true), retry.Context(ctx))
	if errors.Is(err, db.ErrVersionConflict) {
		return models.Checkpoint{}, ErrConflict
	}
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("append checkpoint: %w", err)
	}

	return cp, nil
}

// resolveProfile fills in company code and staff id from the user's profile.
// Profile fetch failures are swallowed; a punch without a company code simply
// skips the geofence.
func (s *Service) resolveProfile(ctx context.Context, userID, companyCodeHint string) (companyCode, staffID string) {
	companyCode = companyCodeHint
	profile, err := s.store.GetUserProfile(ctx, userID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("profile lookup failed")
		return companyCode, ""
	}
	if profile == nil {
		return companyCode, ""
	}
	if companyCode == "" {
		companyCode = profile.CompanyCode
	}
	return companyCode, profile.StaffID
}

// validateGeofence checks the location against the company's fence. Absent
// company code, unknown company, or unconfigured fence are all no-ops; lookup
// failures never block a punch.
func (s *Service) validateGeofence(ctx context.Context, loc media.Location, companyCode string) error {
	if companyCode == "" {
		return nil
	}
	company, err := s.store.GetCompanyByCode(ctx, companyCode)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("company", companyCode).Msg("company lookup failed, skipping geofence")
		return nil
	}
	if company == nil {
		return nil
	}
	return geofence.Validate(geofence.Point{Lat: loc.Lat, Lng: loc.Lng}, fenceFor(company))
}

func fenceFor(c *models.Company) *geofence.Fence {
	if c.GeofenceCenter == nil || c.GeofenceRadiusMeters == nil {
		return nil
	}
	return &geofence.Fence{
		Center:       geofence.Point{Lat: c.GeofenceCenter.Lat, Lng: c.GeofenceCenter.Lng},
		RadiusMeters: *c.GeofenceRadiusMeters,
	}
}

func appendCheckpoint(list []models.Checkpoint, cp models.Checkpoint) []models.Checkpoint {
	out := make([]models.Checkpoint, 0, len(list)+1)
	out = append(out, list...)
	return append(out, cp)
}

func locPoint(loc media.Location) *models.GeoPoint {
	return &models.GeoPoint{Lat: loc.Lat, Lng: loc.Lng, Accuracy: loc.Accuracy}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
