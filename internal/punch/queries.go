package punch

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"punchclock/internal/db/models"
)

// Broad-scan caps for the fallback paths. Legacy rows carry no typed
// timestamp columns, so the indexed range queries cannot see them; the
// fallback fetches a bounded recent window and filters by normalized time on
// the client side. Results beyond the cap are silently incomplete.
const (
	todayScanLimit   = 800
	monthScanLimit   = 2000
	companyScanLimit = 500
	historyScanLimit = 1000
	allScanLimit     = 2000
)

// GetTodaySessions returns the user's sessions that started today in the
// server's local day, sorted by start ascending. The indexed range query is
// primary; an error or an empty result triggers the broad-scan fallback so
// legacy rows still surface. Failures degrade to an empty list.
func (s *Service) GetTodaySessions(ctx context.Context, userID string) []Session {
	now := s.now()
	start, end := dayBounds(now)

	punches, err := s.store.GetPunchesInRange(ctx, userID, start, end)
	if err == nil && len(punches) > 0 {
		return toSessions(punches, now)
	}
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("today range query failed, using fallback scan")
	}

	broad, ferr := s.store.GetUserPunches(ctx, userID, todayScanLimit)
	if ferr != nil {
		log.Ctx(ctx).Warn().Err(ferr).Msg("today fallback scan failed")
		return []Session{}
	}
	sessions := filterByStart(toSessions(broad, now), start.UnixMilli(), end.UnixMilli())
	sortByStartAsc(sessions)
	return sessions
}

// GetTodayTotalMs sums the durations of today's closed sessions. Open
// sessions contribute nothing until they close.
func (s *Service) GetTodayTotalMs(ctx context.Context, userID string) int64 {
	var total int64
	for _, sess := range s.GetTodaySessions(ctx, userID) {
		if !sess.Active && sess.EndMs > 0 {
			total += sess.DurationMs
		}
	}
	return total
}

// GetMonthSessions returns the user's sessions for a calendar month in UTC,
// sorted by start ascending, with the same error-or-empty fallback as the
// today query but a wider scan cap.
func (s *Service) GetMonthSessions(ctx context.Context, userID string, year int, month time.Month) []Session {
	now := s.now()
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	punches, err := s.store.GetPunchesInRange(ctx, userID, start, end)
	if err == nil && len(punches) > 0 {
		sessions := toSessions(punches, now)
		sortByStartAsc(sessions)
		return sessions
	}
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("month range query failed, using fallback scan")
	}

	broad, ferr := s.store.GetUserPunches(ctx, userID, monthScanLimit)
	if ferr != nil {
		log.Ctx(ctx).Warn().Err(ferr).Msg("month fallback scan failed")
		return []Session{}
	}
	sessions := filterByStart(toSessions(broad, now), start.UnixMilli(), end.UnixMilli())
	sortByStartAsc(sessions)
	return sessions
}

// GetTodayCompanyPunches returns today's sessions across the caller's
// company, sorted by start ascending. Unlike the per-user queries the
// fallback fires only on a primary error: an empty company day is a normal
// result, not a signal of missing index coverage.
func (s *Service) GetTodayCompanyPunches(ctx context.Context) []Session {
	user, ok := s.ids.CurrentUser(ctx)
	if !ok {
		return []Session{}
	}
	companyCode, _ := s.resolveProfile(ctx, user.ID, "")
	if companyCode == "" {
		return []Session{}
	}

	now := s.now()
	start, end := dayBounds(now)

	punches, err := s.store.GetCompanyPunchesInRange(ctx, companyCode, start, end)
	if err == nil {
		return toSessions(punches, now)
	}
	log.Ctx(ctx).Warn().Err(err).Str("company", companyCode).Msg("company range query failed, using fallback scan")

	broad, ferr := s.store.GetCompanyPunches(ctx, companyCode, companyScanLimit)
	if ferr != nil {
		log.Ctx(ctx).Warn().Err(ferr).Msg("company fallback scan failed")
		return []Session{}
	}
	sessions := filterByStart(toSessions(broad, now), start.UnixMilli(), end.UnixMilli())
	sortByStartAsc(sessions)
	return sessions
}

// Page is one slice of punch history, newest first. NextCursor is empty on
// the last page.
type Page struct {
	Items      []Session `json:"items"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

// GetHistoryPage returns the caller's punch history newest-first. The cursor
// is the start time of the last item of the previous page in RFC 3339 form;
// an unparseable cursor restarts from the top. The primary path pages on the
// typed start column; on error the broad scan sorts and slices client-side.
func (s *Service) GetHistoryPage(ctx context.Context, pageSize int, cursor string) Page {
	user, ok := s.ids.CurrentUser(ctx)
	if !ok {
		return Page{Items: []Session{}}
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var before *time.Time
	if cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, cursor); err == nil {
			before = &t
		}
	}

	now := s.now()
	punches, err := s.store.GetUserPunchesPage(ctx, user.ID, pageSize+1, before)
	if err == nil {
		items := toSessions(punches, now)
		return buildPage(items, pageSize)
	}
	log.Ctx(ctx).Warn().Err(err).Msg("history page query failed, using fallback scan")

	broad, ferr := s.store.GetUserPunches(ctx, user.ID, historyScanLimit)
	if ferr != nil {
		log.Ctx(ctx).Warn().Err(ferr).Msg("history fallback scan failed")
		return Page{Items: []Session{}}
	}
	items := toSessions(broad, now)
	sortByStartDesc(items)
	if before != nil {
		cutoff := before.UnixMilli()
		kept := items[:0]
		for _, it := range items {
			if it.StartMs < cutoff {
				kept = append(kept, it)
			}
		}
		items = kept
	}
	if len(items) > pageSize+1 {
		items = items[:pageSize+1]
	}
	return buildPage(items, pageSize)
}

// GetAllSessions returns the user's full (capped) punch history as sessions,
// newest first. Debug and export surface.
func (s *Service) GetAllSessions(ctx context.Context, userID string) []Session {
	now := s.now()
	punches, err := s.store.GetUserPunches(ctx, userID, allScanLimit)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("all-punches scan failed")
		return []Session{}
	}
	sessions := toSessions(punches, now)
	sortByStartDesc(sessions)
	return sessions
}

// GetOpenSession returns the caller's open session with its checkpoints, or
// nil when none is open.
func (s *Service) GetOpenSession(ctx context.Context) (*Session, error) {
	user, ok := s.ids.CurrentUser(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	id, found := s.GetOpenSessionID(ctx, user.ID)
	if !found {
		return nil, nil
	}
	p, err := s.store.GetPunchByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	sess := toSession(p, s.now())
	return &sess, nil
}

// GetRecentClosedSessions returns the caller's most recently closed sessions,
// newest close first. Errors degrade to an empty list.
func (s *Service) GetRecentClosedSessions(ctx context.Context, limit int) []Session {
	user, ok := s.ids.CurrentUser(ctx)
	if !ok {
		return []Session{}
	}
	if limit <= 0 {
		limit = 10
	}
	punches, err := s.store.GetRecentClosedPunches(ctx, user.ID, limit)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("recent closed query failed")
		return []Session{}
	}
	return toSessions(punches, s.now())
}

// GetLastClosedSession returns the caller's most recently closed session, or
// nil when none exists.
func (s *Service) GetLastClosedSession(ctx context.Context) *Session {
	sessions := s.GetRecentClosedSessions(ctx, 1)
	if len(sessions) == 0 {
		return nil
	}
	return &sessions[0]
}

// LookupCompany resolves a company code to its record, or nil when unknown.
func (s *Service) LookupCompany(ctx context.Context, code string) (*models.Company, error) {
	if code == "" {
		return nil, ErrInvalidCompanyCode
	}
	return s.store.GetCompanyByCode(ctx, code)
}

// GetRecentSessions returns the user's most recent sessions regardless of
// state, newest first.
func (s *Service) GetRecentSessions(ctx context.Context, userID string, limit int) []Session {
	if limit <= 0 {
		limit = 10
	}
	punches, err := s.store.GetRecentPunches(ctx, userID, limit)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("recent punches query failed")
		return []Session{}
	}
	return toSessions(punches, s.now())
}

// HasLegacyEmbeddedImages samples the caller's recent punches for inline
// data-URL images, the signal that a migration run is still pending.
func (s *Service) HasLegacyEmbeddedImages(ctx context.Context, sampleLimit int) (bool, error) {
	user, ok := s.ids.CurrentUser(ctx)
	if !ok {
		return false, ErrNotAuthenticated
	}
	if sampleLimit <= 0 {
		sampleLimit = 50
	}
	punches, err := s.store.GetRecentPunches(ctx, user.ID, sampleLimit)
	if err != nil {
		return false, err
	}
	for _, p := range punches {
		if hasLegacyImage(p.PunchInPhotoDataURL, p.PunchInPhotoPath) ||
			hasLegacyImage(p.PunchOutPhotoDataURL, p.PunchOutPhotoPath) {
			return true, nil
		}
		for _, cp := range p.Checkpoints {
			if cp.PhotoDataURL != "" && cp.PhotoPath == "" {
				return true, nil
			}
		}
	}
	return false, nil
}

func hasLegacyImage(dataURL, path *string) bool {
	return dataURL != nil && *dataURL != "" && (path == nil || *path == "")
}

func buildPage(items []Session, pageSize int) Page {
	page := Page{Items: items}
	if len(items) > pageSize {
		page.Items = items[:pageSize]
		last := page.Items[len(page.Items)-1]
		page.NextCursor = cursorFor(last)
	}
	if page.Items == nil {
		page.Items = []Session{}
	}
	return page
}

func cursorFor(sess Session) string {
	if sess.PunchInAt != nil {
		return sess.PunchInAt.UTC().Format(time.RFC3339Nano)
	}
	if sess.StartMs > 0 {
		return time.UnixMilli(sess.StartMs).UTC().Format(time.RFC3339Nano)
	}
	return ""
}

func dayBounds(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.Add(24 * time.Hour)
}

// filterByStart keeps sessions whose normalized start falls in [fromMs, toMs).
// Sessions without a resolvable start are dropped.
func filterByStart(sessions []Session, fromMs, toMs int64) []Session {
	out := make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.StartMs == 0 || sess.StartMs < fromMs || sess.StartMs >= toMs {
			continue
		}
		out = append(out, sess)
	}
	return out
}

func sortByStartAsc(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartMs < sessions[j].StartMs })
}

func sortByStartDesc(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartMs > sessions[j].StartMs })
}
