package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"rolegate/pkg/approval"
	"rolegate/pkg/httpx"
	"rolegate/pkg/models"
	"rolegate/pkg/stream"

	"github.com/go-chi/chi/v5"
)

// openSession creates a Pending session for a gated action and parks the
// action until the session terminates.
func (s *Server) openSession(ctx context.Context, kind, subject string, act gatedAction) models.ApprovalSession {
	s.mu.RLock()
	p := s.policy
	s.mu.RUnlock()
	session := s.Engine.CreateSession(kind, subject, p)
	s.mu.Lock()
	s.pending[session.ID] = act
	s.mu.Unlock()
	s.Metrics.IncSessionState(approval.Pending)
	s.Audit.Log(ctx, kind, act.Actor,
		fmt.Sprintf("approval session %s opened, %d signatures required", session.ID, session.RequiredSignatures),
		models.StatusPendingApproval)
	s.publish(stream.EventSessionCreated, session)
	return session
}

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	state := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("state")))
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"sessions": s.Engine.List(state),
	})
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	session, err := s.Engine.Get(chi.URLParam(r, "session_id"))
	if err != nil {
		httpx.Error(w, 404, "session not found")
		return
	}
	httpx.WriteJSON(w, 200, session)
}

type signerRequest struct {
	SignerID string `json:"signer_id"`
}

// resolveSigner takes the signer from the body, falling back to the
// authenticated principal.
func resolveSigner(r *http.Request) string {
	var req signerRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if id := strings.TrimSpace(req.SignerID); id != "" {
		return id
	}
	return actor(r)
}

func (s *Server) approveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	signerID := resolveSigner(r)
	session, err := s.Engine.RecordApproval(sessionID, signerID)
	if err != nil {
		s.writeApprovalError(w, r, "Approval Signature", signerID, err)
		return
	}
	s.Metrics.IncAction("Approval Signature")
	s.Audit.Log(r.Context(), "Approval Signature", signerID,
		fmt.Sprintf("session %s: %d of %d signatures", session.ID, len(session.Approvals), session.RequiredSignatures),
		models.StatusSuccess)
	s.publish(stream.EventApprovalSigned, session)
	httpx.WriteJSON(w, 200, session)
}

func (s *Server) rejectSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	signerID := resolveSigner(r)
	session, err := s.Engine.Reject(sessionID, signerID)
	if err != nil {
		s.writeApprovalError(w, r, "Approval Rejection", signerID, err)
		return
	}
	httpx.WriteJSON(w, 200, session)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	session, err := s.Engine.Cancel(sessionID)
	if err != nil {
		s.writeApprovalError(w, r, "Approval Cancellation", actor(r), err)
		return
	}
	httpx.WriteJSON(w, 200, session)
}

func (s *Server) writeApprovalError(w http.ResponseWriter, r *http.Request, action, who string, err error) {
	s.Audit.Log(r.Context(), action, who, err.Error(), models.StatusFailed)
	switch {
	case errors.Is(err, approval.ErrNotFound):
		httpx.Error(w, 404, "session not found")
	case errors.Is(err, approval.ErrNotEligible):
		httpx.Error(w, 403, err.Error())
	case errors.Is(err, approval.ErrAlreadyApproved):
		httpx.Error(w, 409, err.Error())
	case errors.Is(err, approval.ErrSessionClosed):
		httpx.Error(w, 409, err.Error())
	default:
		httpx.Error(w, 500, err.Error())
	}
}

// onSessionTransition is the engine hook: it archives terminal sessions to
// the audit trail, executes the parked action on quorum and pushes live
// events. It runs outside the session lock.
func (s *Server) onSessionTransition(tr approval.Transition) {
	s.Metrics.IncSessionState(tr.To)
	ctx := context.Background()
	s.mu.Lock()
	act, hasAction := s.pending[tr.Session.ID]
	if approval.IsTerminal(tr.To) {
		delete(s.pending, tr.Session.ID)
	}
	s.mu.Unlock()

	switch tr.To {
	case approval.Approved:
		s.publish(stream.EventSessionApproved, tr.Session)
		if hasAction {
			s.executeGated(ctx, tr.Session, act)
		}
	case approval.Rejected:
		s.publish(stream.EventSessionRejected, tr.Session)
		s.Audit.Log(ctx, tr.Session.ActionType, tr.SignerID,
			fmt.Sprintf("session %s rejected", tr.Session.ID), models.StatusFailed)
	case approval.Expired:
		s.publish(stream.EventSessionExpired, tr.Session)
		s.Audit.Log(ctx, tr.Session.ActionType, "system",
			fmt.Sprintf("session %s expired with %d of %d signatures",
				tr.Session.ID, len(tr.Session.Approvals), tr.Session.RequiredSignatures),
			models.StatusFailed)
	case approval.Cancelled:
		s.publish(stream.EventSessionCanceled, tr.Session)
		who := act.Actor
		if who == "" {
			who = "system"
		}
		s.Audit.Log(ctx, tr.Session.ActionType, who,
			fmt.Sprintf("session %s cancelled", tr.Session.ID), models.StatusFailed)
	}
}

// executeGated applies the effect a completed quorum authorized.
func (s *Server) executeGated(ctx context.Context, session models.ApprovalSession, act gatedAction) {
	switch act.Kind {
	case actionPolicyUpdate:
		applied := s.applyPolicy(act.Policy, act.Actor)
		s.Metrics.IncAction(act.Kind)
		s.Audit.Log(ctx, act.Kind, act.Actor,
			fmt.Sprintf("session %s approved: consensus %s applied", session.ID, applied.ConsensusType),
			models.StatusSuccess)
	case actionUserRevoke, actionUserSuspend, actionBulkUserUpdate:
		updated, err := s.applyBulk(ctx, act)
		if err != nil {
			s.Audit.Log(ctx, act.Kind, act.Actor,
				fmt.Sprintf("session %s approved but apply failed: %v", session.ID, err),
				models.StatusFailed)
			return
		}
		s.Metrics.IncAction(act.Kind)
		s.Audit.Log(ctx, act.Kind, act.Actor,
			fmt.Sprintf("session %s approved: %d users -> %s", session.ID, len(updated), act.NewStatus),
			models.StatusSuccess)
	default:
		s.Audit.Log(ctx, act.Kind, act.Actor,
			fmt.Sprintf("session %s approved but action kind unknown", session.ID),
			models.StatusFailed)
	}
}
