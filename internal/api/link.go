package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/stomplink/internal/audit"
	"github.com/nerrad567/stomplink/internal/stompclient"
)

// deactivateTimeout bounds how long a deactivate request waits for INACTIVE.
const deactivateTimeout = 15 * time.Second

// LinkStatus describes the link in responses and link.state events.
type LinkStatus struct {
	BridgeID      string            `json:"bridge_id"`
	State         string            `json:"state"`
	Connected     bool              `json:"connected"`
	ServerHeaders map[string]string `json:"server_headers,omitempty"`
}

// LinkResponse is the body of GET /link.
type LinkResponse struct {
	LinkStatus
	Stats LinkStats `json:"stats"`
}

// LinkStats mirrors stompclient.Stats.
type LinkStats struct {
	Subscriptions int    `json:"subscriptions"`
	Queued        int    `json:"queued"`
	Dropped       uint64 `json:"dropped"`
	Connects      uint64 `json:"connects"`
	Reconnects    uint64 `json:"reconnects"`
}

// linkStatus builds the status for state. Server headers are included
// only while connected.
func (s *Server) linkStatus(state stompclient.ConnectionState) LinkStatus {
	status := LinkStatus{
		BridgeID:  s.bridgeID,
		State:     state.String(),
		Connected: state == stompclient.Connected,
	}
	if status.Connected {
		if headers, ok := s.link.ServerHeaders(); ok {
			status.ServerHeaders = headers
		}
	}
	return status
}

// handleGetLink returns the link state and statistics.
func (s *Server) handleGetLink(w http.ResponseWriter, _ *http.Request) {
	stats := s.link.Stats()
	writeJSON(w, http.StatusOK, LinkResponse{
		LinkStatus: s.linkStatus(stats.State),
		Stats: LinkStats{
			Subscriptions: stats.Subscriptions,
			Queued:        stats.Queued,
			Dropped:       stats.Dropped,
			Connects:      stats.Connects,
			Reconnects:    stats.Reconnects,
		},
	})
}

// handleActivateLink starts connecting. It returns before the link is up.
func (s *Server) handleActivateLink(w http.ResponseWriter, r *http.Request) {
	s.link.Activate()
	s.logger.Info("link activated via API", "subject", subject(r))
	s.auditLog(audit.ActionActivate, subject(r), nil)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"state": s.link.State().String(),
	})
}

// handleDeactivateLink disconnects and waits for INACTIVE.
func (s *Server) handleDeactivateLink(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), deactivateTimeout)
	defer cancel()

	s.logger.Info("link deactivated via API", "subject", subject(r))
	err := s.link.Deactivate(ctx)
	s.auditLog(audit.ActionDeactivate, subject(r), err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "link did not reach INACTIVE in time")
			return
		}
		s.logger.Error("deactivate failed", "error", err)
		writeInternalError(w, "deactivate failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"state": s.link.State().String(),
	})
}

func subject(r *http.Request) string {
	if claims := claimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
