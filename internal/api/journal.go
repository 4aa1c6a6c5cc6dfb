package api

import (
	"net/http"
	"strconv"
	"time"
)

// defaultCountsWindow is the window of GET /messages/counts without since.
const defaultCountsWindow = 24 * time.Hour

// handleListEvents returns recent link state transitions, newest first.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "journal not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.journal.RecentEvents(r.Context(), s.bridgeID, limit)
	if err != nil {
		s.logger.Error("listing events failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleMessageCounts totals relayed messages since a point in time.
// since is an RFC 3339 timestamp or a duration such as "1h" back from now.
func (s *Server) handleMessageCounts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "journal not configured")
		return
	}

	since, err := parseSince(r.URL.Query().Get("since"), time.Now())
	if err != nil {
		writeBadRequest(w, "since must be an RFC 3339 timestamp or a positive duration")
		return
	}

	counts, err := s.journal.MessageCounts(r.Context(), s.bridgeID, since)
	if err != nil {
		s.logger.Error("counting messages failed", "error", err)
		writeInternalError(w, "failed to count messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":  since.UTC(),
		"counts": counts,
	})
}

// parseSince resolves the since query parameter relative to now.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Add(-defaultCountsWindow), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, err
	}
	if d <= 0 {
		return time.Time{}, strconv.ErrRange
	}
	return now.Add(-d), nil
}
