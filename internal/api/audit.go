package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/tiles-iot/tiles-gateway/internal/audit"
)

// auditWriteTimeout bounds the audit insert once the request context may
// already be gone.
const auditWriteTimeout = 2 * time.Second

// record appends an operator action to the audit trail. Failures are
// logged and never fail the request.
func (s *Server) record(r *http.Request, action audit.Action, target string, details map[string]any) {
	if s.audit == nil {
		return
	}
	e := &audit.Entry{Action: action, Target: target, Details: details}
	if claims := claimsFromContext(r.Context()); claims != nil {
		e.Subject = claims.Subject
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Warn("audit write failed", "action", action, "target", target, "error", err)
	}
}

// handleListAudit returns the audit trail, newest first.
//
// Query parameters:
//   - action: filter by action (connect, command, pair, ...)
//   - target: filter by tile, virtual tile or application id
//   - limit, offset: pagination (limit defaults to 50, max 200)
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: audit.Action(q.Get("action")),
		Target: q.Get("target"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit trail failed", "error", err)
		writeInternalError(w, "failed to list audit trail")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
