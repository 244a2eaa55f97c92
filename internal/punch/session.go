package punch

import (
	"time"

	"punchclock/internal/db/models"
	"punchclock/internal/timeval"
)

// Session is the read model handed to callers and to the report package: the
// stored punch plus its normalized times and the duration policy applied.
type Session struct {
	models.Punch
	// StartMs and EndMs are the normalized epoch-millisecond times; zero when
	// absent or unparseable. EndMs is zero while the session is open.
	StartMs    int64 `json:"startMs"`
	EndMs      int64 `json:"endMs,omitempty"`
	DurationMs int64 `json:"durationMs"`
	Active     bool  `json:"active"`
}

func toSession(p *models.Punch, now time.Time) Session {
	s := Session{Punch: *p, Active: p.Open()}
	s.StartMs = p.PunchIn.SortMillis()
	s.EndMs = p.PunchOut.SortMillis()
	s.DurationMs = timeval.DurationMillis(p.PunchIn, p.PunchOut, now)
	return s
}

func toSessions(punches []*models.Punch, now time.Time) []Session {
	sessions := make([]Session, 0, len(punches))
	for _, p := range punches {
		sessions = append(sessions, toSession(p, now))
	}
	return sessions
}
