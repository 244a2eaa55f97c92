package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"punchclock/internal/identity"
	"punchclock/internal/punch"
)

// handleStreamToday streams the caller's today list as server-sent events.
func (s *Server) handleStreamToday(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, punch.ErrNotAuthenticated)
		return
	}
	interval := time.Duration(queryInt(r, "intervalMs", 15000)) * time.Millisecond
	s.streamSessions(w, r, s.svc.WatchTodaySessions(r.Context(), user.ID, interval))
}

// handleStreamCompany streams the caller's company-wide today list.
func (s *Server) handleStreamCompany(w http.ResponseWriter, r *http.Request) {
	interval := time.Duration(queryInt(r, "intervalMs", 15000)) * time.Millisecond
	s.streamSessions(w, r, s.svc.WatchCompanyToday(r.Context(), interval))
}

// handleStreamRecent streams the caller's most recent sessions.
func (s *Server) handleStreamRecent(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, punch.ErrNotAuthenticated)
		return
	}
	interval := time.Duration(queryInt(r, "intervalMs", 15000)) * time.Millisecond
	s.streamSessions(w, r, s.svc.WatchRecentSessions(r.Context(), user.ID, queryInt(r, "limit", 20), interval))
}

func (s *Server) streamSessions(w http.ResponseWriter, r *http.Request, feed <-chan []punch.Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-feed:
			if !open {
				return
			}
			data, err := json.Marshal(map[string]any{"sessions": snap})
			if err != nil {
				log.Ctx(r.Context()).Error().Err(err).Msg("sse encode failed")
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
