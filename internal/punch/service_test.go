package punch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"punchclock/internal/db"
	"punchclock/internal/db/models"
	"punchclock/internal/geofence"
	"punchclock/internal/identity"
	"punchclock/internal/media"
	"punchclock/internal/timeval"
)

type fakeStore struct {
	mu        sync.Mutex
	punches   map[uuid.UUID]*models.Punch
	companies map[string]*models.Company
	profiles  map[string]*models.UserProfile

	failOpenLookup bool
	failRange      bool
	failBroad      bool
	failPage       bool
	dupOnCreate    bool
	closeConflicts int
	cpConflicts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		punches:   make(map[uuid.UUID]*models.Punch),
		companies: make(map[string]*models.Company),
		profiles:  make(map[string]*models.UserProfile),
	}
}

func (s *fakeStore) CreatePunch(_ context.Context, p *models.Punch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dupOnCreate {
		return db.ErrDuplicateOpenPunch
	}
	for _, other := range s.punches {
		if other.UserID == p.UserID && other.Open() {
			return db.ErrDuplicateOpenPunch
		}
	}
	cp := *p
	s.punches[p.ID] = &cp
	return nil
}

func (s *fakeStore) GetOpenPunch(_ context.Context, userID string) (*models.Punch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpenLookup {
		return nil, errors.New("index missing")
	}
	for _, p := range s.punches {
		if p.UserID == userID && p.Open() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetPunchByID(_ context.Context, id uuid.UUID) (*models.Punch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.punches[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) ClosePunch(_ context.Context, id uuid.UUID, version int64, at time.Time, loc models.GeoPoint, photoPath, photoURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.punches[id]
	if !ok {
		return db.ErrVersionConflict
	}
	if s.closeConflicts > 0 {
		s.closeConflicts--
		p.Version++
		return db.ErrVersionConflict
	}
	if p.Version != version {
		return db.ErrVersionConflict
	}
	p.PunchOut = timeval.FromTime(at)
	p.PunchOutAt = &at
	p.PunchOutLocation = &loc
	p.PunchOutPhotoPath = &photoPath
	if photoURL != "" {
		p.PunchOutPhotoURL = &photoURL
	}
	p.Version++
	return nil
}

func (s *fakeStore) UpdateCheckpoints(_ context.Context, id uuid.UUID, version int64, checkpoints []models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.punches[id]
	if !ok {
		return db.ErrVersionConflict
	}
	if s.cpConflicts > 0 {
		s.cpConflicts--
		p.Version++
		return db.ErrVersionConflict
	}
	if p.Version != version {
		return db.ErrVersionConflict
	}
	p.Checkpoints = checkpoints
	p.Version++
	return nil
}

func (s *fakeStore) RewritePhotoRefs(_ context.Context, id uuid.UUID, version int64, upd models.PhotoRefUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.punches[id]
	if !ok || p.Version != version {
		return db.ErrVersionConflict
	}
	if upd.PunchInPhotoPath != nil {
		p.PunchInPhotoPath = upd.PunchInPhotoPath
	}
	if upd.PunchInPhotoURL != nil {
		p.PunchInPhotoURL = upd.PunchInPhotoURL
	}
	if upd.ClearPunchInData {
		p.PunchInPhotoDataURL = nil
	}
	if upd.PunchOutPhotoPath != nil {
		p.PunchOutPhotoPath = upd.PunchOutPhotoPath
	}
	if upd.PunchOutPhotoURL != nil {
		p.PunchOutPhotoURL = upd.PunchOutPhotoURL
	}
	if upd.ClearPunchOutData {
		p.PunchOutPhotoDataURL = nil
	}
	if upd.Checkpoints != nil {
		p.Checkpoints = upd.Checkpoints
	}
	p.Version++
	return nil
}

func (s *fakeStore) GetPunchesInRange(_ context.Context, userID string, from, to time.Time) ([]*models.Punch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRange {
		return nil, errors.New("index missing")
	}
	var out []*models.Punch
	for _, p := range s.punches {
		if p.UserID != userID || p.PunchInAt == nil {
			continue
		}
		if p.PunchInAt.Before(from) || !p.PunchInAt.Before(to) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PunchInAt.Before(*out[j].PunchInAt) })
	return out, nil
}

func (s *fakeStore) GetUserPunches(_ context.Context, userID string, limit int) ([]*models.Punch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBroad {
		return nil, errors.New("scan failed")
	}
	var out []*models.Punch
	for _, p := range s.punches {
		if p.UserID != userID || len(out) >= limit {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) GetCompanyPunchesInRange(_ context.Context, companyCode string, from, to time.Time) ([]*models.Punch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRange {
		return nil, errors.New("index missing")
	}
	var out []*models.Punch
	for _, p := range s.punches {
		if p.CompanyCode == nil || *p.CompanyCode != companyCode || p.PunchInAt == nil {
			continue
		}
		if p.PunchInAt.Before(from) || !p.PunchInAt.Before(to) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) GetCompanyPunches(_ context.Context, companyCode string, limit int) ([]*models.Punch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Punch
	for _, p := range s.punches {
		if p.CompanyCode == nil || *p.CompanyCode != companyCode || len(out) >= limit {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) GetUserPunchesPage(_ context.Context, userID string, limit int, before *time.Time) ([]*models.Punch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPage {
		return nil, errors.New("index missing")
	}
	var out []*models.Punch
	for _, p := range s.punches {
		if p.UserID != userID || p.PunchInAt == nil {
			continue
		}
		if before != nil && !p.PunchInAt.Before(*before) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].PunchInAt.Before(*out[i].PunchInAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetRecentPunches(_ context.Context, userID string, limit int) ([]*models.Punch, error) {
	return s.GetUserPunches(context.Background(), userID, limit)
}

func (s *fakeStore) GetRecentClosedPunches(_ context.Context, userID string, limit int) ([]*models.Punch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Punch
	for _, p := range s.punches {
		if p.UserID != userID || p.Open() || len(out) >= limit {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) GetCompanyByCode(_ context.Context, code string) (*models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[code]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) GetUserProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

type fakeCapturer struct {
	loc            media.Location
	uploads        []string
	dataURLUploads []string
	failDataURL    bool
}

func (c *fakeCapturer) CaptureSelfie(context.Context) ([]byte, error) {
	return []byte("jpeg-bytes"), nil
}

func (c *fakeCapturer) CaptureLocation(context.Context) (media.Location, error) {
	return c.loc, nil
}

func (c *fakeCapturer) Upload(_ context.Context, path string, _ []byte) media.PhotoRef {
	c.uploads = append(c.uploads, path)
	return media.PhotoRef{Path: path, URL: "https://cdn.example.com/" + path}
}

func (c *fakeCapturer) UploadDataURL(_ context.Context, path, _ string) (media.PhotoRef, error) {
	if c.failDataURL {
		return media.PhotoRef{}, errors.New("upload failed")
	}
	c.dataURLUploads = append(c.dataURLUploads, path)
	return media.PhotoRef{Path: path, URL: "https://cdn.example.com/" + path}, nil
}

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestService(store *fakeStore, capture *fakeCapturer) *Service {
	svc := New(store, capture, identity.StaticProvider{User: identity.User{ID: "u1", Email: "u1@example.com"}})
	svc.now = func() time.Time { return testNow }
	return svc
}

func seedProfile(store *fakeStore) {
	store.profiles["u1"] = &models.UserProfile{
		UserID:      "u1",
		StaffID:     "EMP-7",
		Email:       "u1@example.com",
		CompanyCode: "ACME",
	}
}

func seedPunch(store *fakeStore, userID string, start time.Time, end *time.Time) *models.Punch {
	p := &models.Punch{
		ID:        uuid.New(),
		UserID:    userID,
		PunchIn:   timeval.FromTime(start),
		PunchInAt: &start,
		Version:   1,
	}
	if end != nil {
		p.PunchOut = timeval.FromTime(*end)
		p.PunchOutAt = end
	}
	store.mu.Lock()
	store.punches[p.ID] = p
	store.mu.Unlock()
	return p
}

func TestPunchInCreatesOpenSession(t *testing.T) {
	store := newFakeStore()
	capture := &fakeCapturer{loc: media.Location{Lat: 3.14, Lng: 101.69}}
	seedProfile(store)
	svc := newTestService(store, capture)

	id, err := svc.PunchIn(context.Background(), "")
	require.NoError(t, err)

	p, err := store.GetPunchByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Open())
	assert.Equal(t, int64(1), p.Version)
	assert.Equal(t, "ACME", *p.CompanyCode)
	assert.Equal(t, "EMP-7", *p.StaffID)
	require.NotNil(t, p.PunchInAt)
	assert.Equal(t, testNow, *p.PunchInAt)
	assert.Equal(t, testNow.UnixMilli(), p.PunchIn.SortMillis())
	require.NotNil(t, p.PunchInLocation)
	assert.Equal(t, 3.14, p.PunchInLocation.Lat)

	require.Len(t, capture.uploads, 1)
	assert.Equal(t, fmt.Sprintf("punches/u1/%d_in.jpg", testNow.UnixMilli()), capture.uploads[0])
}

func TestPunchInRejectsSecondOpenSession(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeCapturer{})

	_, err := svc.PunchIn(context.Background(), "")
	require.NoError(t, err)

	_, err = svc.PunchIn(context.Background(), "")
	assert.ErrorIs(t, err, ErrSessionAlreadyOpen)
}

// Losing the insert race maps the store's constraint error to the same
// already-open error the pre-check produces.
func TestPunchInInsertRaceMapsToAlreadyOpen(t *testing.T) {
	store := newFakeStore()
	store.dupOnCreate = true
	svc := newTestService(store, &fakeCapturer{})

	_, err := svc.PunchIn(context.Background(), "")
	assert.ErrorIs(t, err, ErrSessionAlreadyOpen)
}

func TestPunchInGeofence(t *testing.T) {
	store := newFakeStore()
	seedProfile(store)
	radius := 100.0
	store.companies["ACME"] = &models.Company{
		Code:                 "ACME",
		Name:                 "Acme Sdn Bhd",
		GeofenceCenter:       &models.GeoPoint{Lat: 3.139003, Lng: 101.686855},
		GeofenceRadiusMeters: &radius,
	}

	t.Run("outside is rejected", func(t *testing.T) {
		capture := &fakeCapturer{loc: media.Location{Lat: 3.2, Lng: 101.8}}
		svc := newTestService(store, capture)

		_, err := svc.PunchIn(context.Background(), "")
		var violation *geofence.ViolationError
		require.ErrorAs(t, err, &violation)
		assert.Empty(t, store.punches)
	})

	t.Run("inside passes", func(t *testing.T) {
		capture := &fakeCapturer{loc: media.Location{Lat: 3.139003, Lng: 101.686855}}
		svc := newTestService(store, capture)

		_, err := svc.PunchIn(context.Background(), "")
		assert.NoError(t, err)
	})

	t.Run("no fence configured passes anywhere", func(t *testing.T) {
		plain := newFakeStore()
		seedProfile(plain)
		plain.companies["ACME"] = &models.Company{Code: "ACME", Name: "Acme Sdn Bhd"}
		svc := newTestService(plain, &fakeCapturer{loc: media.Location{Lat: -70, Lng: 40}})

		_, err := svc.PunchIn(context.Background(), "")
		assert.NoError(t, err)
	})
}

func TestPunchOut(t *testing.T) {
	store := newFakeStore()
	capture := &fakeCapturer{}
	svc := newTestService(store, capture)

	id, err := svc.PunchIn(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, svc.PunchOut(context.Background(), id))

	p, _ := store.GetPunchByID(context.Background(), id)
	assert.False(t, p.Open())
	require.NotNil(t, p.PunchOutAt)
	assert.Equal(t, testNow, *p.PunchOutAt)
	require.Len(t, capture.uploads, 2)
	assert.Equal(t, fmt.Sprintf("punches/u1/%s_out_%d.jpg", id, testNow.UnixMilli()), capture.uploads[1])

	t.Run("second close fails", func(t *testing.T) {
		assert.ErrorIs(t, svc.PunchOut(context.Background(), id), ErrSessionAlreadyClosed)
	})

	t.Run("unknown session", func(t *testing.T) {
		assert.ErrorIs(t, svc.PunchOut(context.Background(), uuid.New()), ErrSessionNotFound)
	})

	t.Run("someone else's session", func(t *testing.T) {
		other := seedPunch(store, "u2", testNow.Add(-time.Hour), nil)
		assert.ErrorIs(t, svc.PunchOut(context.Background(), other.ID), ErrSessionNotFound)
	})
}

func TestPunchOutVersionConflict(t *testing.T) {
	t.Run("recovers within retry attempts", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, &fakeCapturer{})
		id, err := svc.PunchIn(context.Background(), "")
		require.NoError(t, err)

		store.closeConflicts = 2
		require.NoError(t, svc.PunchOut(context.Background(), id))

		p, _ := store.GetPunchByID(context.Background(), id)
		assert.False(t, p.Open())
	})

	t.Run("gives up after retries", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, &fakeCapturer{})
		id, err := svc.PunchIn(context.Background(), "")
		require.NoError(t, err)

		store.closeConflicts = 10
		assert.ErrorIs(t, svc.PunchOut(context.Background(), id), ErrConflict)
	})
}

func TestAddCheckpoint(t *testing.T) {
	store := newFakeStore()
	capture := &fakeCapturer{loc: media.Location{Lat: 1, Lng: 2}}
	svc := newTestService(store, capture)

	id, err := svc.PunchIn(context.Background(), "")
	require.NoError(t, err)

	// Nil session id resolves the open session.
	cp, err := svc.AddCheckpoint(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, testNow.UTC().Format(time.RFC3339), cp.CreatedAt)
	assert.Equal(t, fmt.Sprintf("punches/u1/%s/checkpoints/%d_cp.jpg", id, testNow.UnixMilli()), cp.PhotoPath)

	p, _ := store.GetPunchByID(context.Background(), id)
	require.Len(t, p.Checkpoints, 1)
	assert.Equal(t, cp.ID, p.Checkpoints[0].ID)

	t.Run("closed session rejects", func(t *testing.T) {
		require.NoError(t, svc.PunchOut(context.Background(), id))
		_, err := svc.AddCheckpoint(context.Background(), &id)
		assert.ErrorIs(t, err, ErrSessionAlreadyClosed)
	})
}

func TestAddCheckpointCap(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeCapturer{})

	id, err := svc.PunchIn(context.Background(), "")
	require.NoError(t, err)

	store.mu.Lock()
	p := store.punches[id]
	for i := 0; i < CheckpointLimit-1; i++ {
		p.Checkpoints = append(p.Checkpoints, models.Checkpoint{ID: fmt.Sprintf("cp-%d", i)})
	}
	store.mu.Unlock()

	_, err = svc.AddCheckpoint(context.Background(), &id)
	require.NoError(t, err)

	p, _ = store.GetPunchByID(context.Background(), id)
	assert.Len(t, p.Checkpoints, CheckpointLimit)

	_, err = svc.AddCheckpoint(context.Background(), &id)
	assert.ErrorIs(t, err, ErrCheckpointLimit)
}

func TestAddCheckpointConflictReappends(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeCapturer{})

	id, err := svc.PunchIn(context.Background(), "")
	require.NoError(t, err)

	store.cpConflicts = 1
	cp, err := svc.AddCheckpoint(context.Background(), &id)
	require.NoError(t, err)

	p, _ := store.GetPunchByID(context.Background(), id)
	require.Len(t, p.Checkpoints, 1)
	assert.Equal(t, cp.ID, p.Checkpoints[0].ID)
}

func TestGetOpenSessionIDFallback(t *testing.T) {
	store := newFakeStore()
	store.failOpenLookup = true
	svc := newTestService(store, &fakeCapturer{})

	open := seedPunch(store, "u1", testNow.Add(-time.Hour), nil)

	id, found := svc.GetOpenSessionID(context.Background(), "u1")
	assert.True(t, found)
	assert.Equal(t, open.ID, id)

	t.Run("both paths failing degrades to none", func(t *testing.T) {
		store.failBroad = true
		_, found := svc.GetOpenSessionID(context.Background(), "u1")
		assert.False(t, found)
	})
}
