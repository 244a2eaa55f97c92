package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"punchclock/internal/identity"
	"punchclock/internal/offline"
	"punchclock/internal/punch"
	"punchclock/internal/report"
)

type punchInRequest struct {
	CompanyCode string `json:"companyCode"`
}

type checkpointRequest struct {
	SessionID string `json:"sessionId"`
}

type punchInTask struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	CompanyCode string `json:"companyCode"`
}

type punchOutTask struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleGetOpenSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetOpenSession(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) handlePunchIn(w http.ResponseWriter, r *http.Request) {
	var req punchInRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	id, err := s.svc.PunchIn(r.Context(), req.CompanyCode)
	if err != nil {
		if punch.IsNetworkError(err) {
			s.queueTask(w, r, offline.TaskPunchIn, punchInTask{
				UserID:      callerID(r),
				Email:       callerEmail(r),
				CompanyCode: req.CompanyCode,
			})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id.String()})
}

func (s *Server) handlePunchOut(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid session id"})
		return
	}

	if err := s.svc.PunchOut(r.Context(), id); err != nil {
		if punch.IsNetworkError(err) {
			s.queueTask(w, r, offline.TaskPunchOut, punchOutTask{
				UserID:    callerID(r),
				Email:     callerEmail(r),
				SessionID: id.String(),
			})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleAddCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req checkpointRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	var sessionID *uuid.UUID
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid session id"})
			return
		}
		sessionID = &id
	}

	cp, err := s.svc.AddCheckpoint(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

func (s *Server) handleTodaySessions(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, punch.ErrNotAuthenticated)
		return
	}
	sessions := s.svc.GetTodaySessions(r.Context(), user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleTodayTotal(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, punch.ErrNotAuthenticated)
		return
	}
	total := s.svc.GetTodayTotalMs(r.Context(), user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"totalMs":   total,
		"formatted": report.FormatMillis(total),
	})
}

func (s *Server) handleMonthSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, punch.ErrNotAuthenticated)
		return
	}
	now := time.Now().UTC()
	year := queryInt(r, "year", now.Year())
	month := time.Month(queryInt(r, "month", int(now.Month())))
	if month < time.January || month > time.December {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid month"})
		return
	}
	sessions := s.svc.GetMonthSessions(r.Context(), user.ID, year, month)
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page := s.svc.GetHistoryPage(r.Context(), queryInt(r, "pageSize", 20), r.URL.Query().Get("cursor"))
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAllSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, punch.ErrNotAuthenticated)
		return
	}
	sessions := s.svc.GetAllSessions(r.Context(), user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleRecentClosed(w http.ResponseWriter, r *http.Request) {
	sessions := s.svc.GetRecentClosedSessions(r.Context(), queryInt(r, "limit", 10))
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleLastClosed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"session": s.svc.GetLastClosedSession(r.Context())})
}

func (s *Server) handleCompanyLookup(w http.ResponseWriter, r *http.Request) {
	company, err := s.svc.LookupCompany(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if company == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown company code"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code": company.Code,
		"name": company.Name,
	})
}

func (s *Server) handleCompanyToday(w http.ResponseWriter, r *http.Request) {
	sessions := s.svc.GetTodayCompanyPunches(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleDailyTotals(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, punch.ErrNotAuthenticated)
		return
	}
	now := time.Now().UTC()
	year := queryInt(r, "year", now.Year())
	month := time.Month(queryInt(r, "month", int(now.Month())))
	if month < time.January || month > time.December {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid month"})
		return
	}
	sessions := s.svc.GetMonthSessions(r.Context(), user.ID, year, month)
	writeJSON(w, http.StatusOK, map[string]any{"days": report.DailyTotals(sessions, time.Local)})
}

func (s *Server) handleGroupedByDay(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, punch.ErrNotAuthenticated)
		return
	}
	sessions := s.svc.GetAllSessions(r.Context(), user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"groups": report.GroupByDay(sessions, time.Local)})
}

func (s *Server) handleMigrateImages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchLimit int `json:"batchLimit"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}
	stats, err := s.svc.MigrateLegacyImages(r.Context(), req.BatchLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMigrationPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.svc.HasLegacyEmbeddedImages(r.Context(), queryInt(r, "sampleLimit", 50))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"pending": pending})
}

func (s *Server) handleOfflineTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.queue.PeekAll()})
}

func (s *Server) handleOfflineReplay(w http.ResponseWriter, r *http.Request) {
	res := s.queue.Process(r.Context(), s.replayHandlers())
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOfflineClear(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Clear(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// replayHandlers redo queued punch operations on behalf of the user recorded
// in the payload. Operations that turn out to be already applied count as
// success so the queue drains.
func (s *Server) replayHandlers() map[offline.TaskType]offline.Handler {
	return map[offline.TaskType]offline.Handler{
		offline.TaskPunchIn: func(ctx context.Context, payload json.RawMessage) error {
			var t punchInTask
			if err := json.Unmarshal(payload, &t); err != nil {
				return err
			}
			ctx = identity.WithUser(ctx, identity.User{ID: t.UserID, Email: t.Email})
			_, err := s.svc.PunchIn(ctx, t.CompanyCode)
			if errors.Is(err, punch.ErrSessionAlreadyOpen) {
				return nil
			}
			return err
		},
		offline.TaskPunchOut: func(ctx context.Context, payload json.RawMessage) error {
			var t punchOutTask
			if err := json.Unmarshal(payload, &t); err != nil {
				return err
			}
			id, err := uuid.Parse(t.SessionID)
			if err != nil {
				return err
			}
			ctx = identity.WithUser(ctx, identity.User{ID: t.UserID, Email: t.Email})
			err = s.svc.PunchOut(ctx, id)
			if errors.Is(err, punch.ErrSessionAlreadyClosed) || errors.Is(err, punch.ErrSessionNotFound) {
				return nil
			}
			return err
		},
	}
}

func (s *Server) queueTask(w http.ResponseWriter, r *http.Request, typ offline.TaskType, payload any) {
	task, err := s.queue.Enqueue(typ, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "taskId": task.ID})
}

func callerID(r *http.Request) string {
	u, _ := identity.FromContext(r.Context())
	return u.ID
}

func callerEmail(r *http.Request) string {
	u, _ := identity.FromContext(r.Context())
	return u.Email
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
