package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rolegate/pkg/httpx"
	"rolegate/pkg/models"
	"rolegate/pkg/policy"
	"rolegate/pkg/rbac"
	"rolegate/pkg/stream"
)

func (s *Server) getPermissions(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	perms := make([]models.Permission, len(s.permissions))
	copy(perms, s.permissions)
	meta := s.permMeta
	s.mu.RUnlock()
	httpx.WriteJSON(w, 200, models.PermissionUpdate{
		Permissions: perms,
		UpdatedAt:   meta.UpdatedAt,
		UpdatedBy:   meta.UpdatedBy,
	})
}

func (s *Server) putPermissions(w http.ResponseWriter, r *http.Request) {
	var req models.PermissionUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if len(req.Permissions) == 0 {
		httpx.Error(w, 400, "permissions required")
		return
	}
	for _, p := range req.Permissions {
		if strings.TrimSpace(p.FunctionName) == "" {
			httpx.Error(w, 400, "function_name required")
			return
		}
		for role, status := range p.Roles {
			if !role.Valid() {
				httpx.Error(w, 400, fmt.Sprintf("unknown role %q", role))
				return
			}
			switch status {
			case models.PermissionGranted, models.PermissionDenied, models.PermissionLimited:
			default:
				httpx.Error(w, 400, fmt.Sprintf("unknown permission status %q", status))
				return
			}
		}
	}
	who := actor(r)
	now := time.Now().UTC()
	s.mu.Lock()
	s.permissions = req.Permissions
	s.permMeta = models.PermissionUpdate{UpdatedAt: now, UpdatedBy: who}
	s.mu.Unlock()
	s.Metrics.IncAction("Permission Update")
	s.Audit.Log(r.Context(), "Permission Update", who,
		fmt.Sprintf("updated %d permission rows", len(req.Permissions)), models.StatusSuccess)
	httpx.WriteJSON(w, 200, models.PermissionUpdate{
		Permissions: req.Permissions,
		UpdatedAt:   now,
		UpdatedBy:   who,
	})
}

type policyResponse struct {
	Policy      models.ConsensusPolicy `json:"policy"`
	Activatable bool                   `json:"activatable"`
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	p := s.policy
	s.mu.RUnlock()
	httpx.WriteJSON(w, 200, policyResponse{Policy: p, Activatable: policy.Activatable(p)})
}

// putPolicy validates a replacement consensus policy. When the active
// policy demands multi-signature consent the change itself goes through
// an approval session rather than applying immediately.
func (s *Server) putPolicy(w http.ResponseWriter, r *http.Request) {
	var req models.ConsensusPolicy
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	// derive the quorum size server-side so clients cannot send a mismatch
	if required, err := policy.RequiredSignatures(req.ConsensusType); err == nil {
		req.RequiredSignatures = required
	}
	who := actor(r)
	if err := policy.Validate(req); err != nil {
		s.Audit.Log(r.Context(), actionPolicyUpdate, who, err.Error(), models.StatusFailed)
		httpx.Error(w, 400, err.Error())
		return
	}
	if err := s.validateSigners(req.SelectedSigners); err != nil {
		s.Audit.Log(r.Context(), actionPolicyUpdate, who, err.Error(), models.StatusFailed)
		httpx.Error(w, 400, err.Error())
		return
	}
	act := gatedAction{Kind: actionPolicyUpdate, Actor: who, Policy: req}
	if s.quorumRequired(0) {
		session := s.openSession(r.Context(), actionPolicyUpdate, req.ConsensusType, act)
		httpx.WriteJSON(w, 202, session)
		return
	}
	applied := s.applyPolicy(req, who)
	s.Metrics.IncAction(actionPolicyUpdate)
	s.Audit.Log(r.Context(), actionPolicyUpdate, who,
		fmt.Sprintf("consensus %s, auto-approve limit %.2f", applied.ConsensusType, applied.AutoApproveLimit),
		models.StatusSuccess)
	httpx.WriteJSON(w, 200, policyResponse{Policy: applied, Activatable: policy.Activatable(applied)})
}

// validateSigners checks every selected signer against the live pool of
// active, approval-eligible users.
func (s *Server) validateSigners(selected []string) error {
	s.mu.RLock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	s.mu.RUnlock()
	pool := rbac.SignerPool(users)
	inPool := make(map[string]struct{}, len(pool))
	for _, signer := range pool {
		inPool[signer.ID] = struct{}{}
	}
	seen := map[string]struct{}{}
	for _, id := range selected {
		if _, ok := inPool[id]; !ok {
			return fmt.Errorf("%w: %s", policy.ErrSignerNotInPool, id)
		}
		if _, dup := seen[id]; dup {
			return errors.New("duplicate signer selection")
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (s *Server) applyPolicy(p models.ConsensusPolicy, who string) models.ConsensusPolicy {
	p.UpdatedAt = time.Now().UTC()
	p.UpdatedBy = who
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	s.publish(stream.EventPolicyChanged, p)
	return p
}

// quorumRequired reports whether an action must collect signatures before
// it executes. Amounts at or under the auto-approve limit bypass the gate.
func (s *Server) quorumRequired(amount float64) bool {
	s.mu.RLock()
	p := s.policy
	s.mu.RUnlock()
	if !p.RequireMultiSig {
		return false
	}
	if amount > 0 && policy.AutoApproved(p, amount) {
		return false
	}
	return policy.Activatable(p)
}

func (s *Server) publish(eventType string, data interface{}) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(stream.NewEvent(eventType, data))
}
