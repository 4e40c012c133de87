package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"sort"
	"strings"
	"time"

	"rolegate/pkg/httpx"
	"rolegate/pkg/keys"
	"rolegate/pkg/models"
	"rolegate/pkg/rbac"
	"rolegate/pkg/stream"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"users":       out,
		"signer_pool": rbac.SignerPool(out),
	})
}

// newUserLocked creates and stores a user. Caller holds s.mu.
func (s *Server) newUserLocked(ctx context.Context, req models.UserCreateRequest) (models.User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" {
		return models.User{}, fmt.Errorf("name required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return models.User{}, fmt.Errorf("invalid email")
	}
	if !req.Role.Valid() {
		return models.User{}, fmt.Errorf("unknown role %q", req.Role)
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return models.User{}, fmt.Errorf("email already registered")
		}
	}
	pair, err := keys.GenerateKeyPair()
	if err != nil {
		return models.User{}, fmt.Errorf("key generation: %w", err)
	}
	now := time.Now().UTC()
	user := models.User{
		ID:                  uuid.New().String(),
		Name:                name,
		Email:               email,
		Role:                req.Role,
		Status:              models.UserActive,
		PublicKey:           pair.PublicKey,
		EncryptedPrivateKey: pair.EncryptedPrivateKey,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	// persist first: a failed write-through must not leave the user behind
	// in the in-memory store, or a retry would hit the duplicate-email check
	if s.DB != nil {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO users(id, name, email, role, status, public_key, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, user.ID, user.Name, user.Email, string(user.Role), user.Status, user.PublicKey, user.CreatedAt, user.UpdatedAt)
		if err != nil {
			return models.User{}, fmt.Errorf("persist user: %w", err)
		}
	}
	s.users[user.ID] = &user
	return user, nil
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req models.UserCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	s.mu.Lock()
	user, err := s.newUserLocked(r.Context(), req)
	s.mu.Unlock()
	who := actor(r)
	if err != nil {
		s.Audit.Log(r.Context(), "User Creation", who, err.Error(), models.StatusFailed)
		httpx.Error(w, 400, err.Error())
		return
	}
	s.Metrics.IncAction("User Creation")
	s.Audit.Log(r.Context(), "User Creation", who,
		fmt.Sprintf("created %s (%s) as %s", user.Name, user.Email, user.Role), models.StatusSuccess)
	s.publish(stream.EventUserChanged, user)
	// private key material is returned once, at creation
	httpx.WriteJSON(w, 201, user)
}

// setUserStatus applies a status transition to a stored user.
func (s *Server) setUserStatus(ctx context.Context, userID, status string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("user %s not found", userID)
	}
	updated := *u
	updated.Status = status
	updated.UpdatedAt = time.Now().UTC()
	if s.DB != nil {
		if _, err := s.DB.Exec(ctx, `UPDATE users SET status=$2, updated_at=$3 WHERE id=$1`,
			updated.ID, updated.Status, updated.UpdatedAt); err != nil {
			return models.User{}, fmt.Errorf("persist user status: %w", err)
		}
	}
	*u = updated
	return updated, nil
}

func (s *Server) hasUser(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

func (s *Server) revokeUser(w http.ResponseWriter, r *http.Request) {
	s.userStatusAction(w, r, actionUserRevoke, models.UserRevoked)
}

func (s *Server) suspendUser(w http.ResponseWriter, r *http.Request) {
	s.userStatusAction(w, r, actionUserSuspend, models.UserSuspended)
}

// activateUser restores access directly; reinstatement is not quorum-gated.
func (s *Server) activateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	who := actor(r)
	user, err := s.setUserStatus(r.Context(), userID, models.UserActive)
	if err != nil {
		s.Audit.Log(r.Context(), "User Activation", who, err.Error(), models.StatusFailed)
		httpx.Error(w, 404, err.Error())
		return
	}
	s.Metrics.IncAction("User Activation")
	s.Audit.Log(r.Context(), "User Activation", who,
		fmt.Sprintf("activated %s (%s)", user.Name, user.Email), models.StatusSuccess)
	s.publish(stream.EventUserChanged, user)
	httpx.WriteJSON(w, 200, user)
}

// userStatusAction gates a sensitive status change behind the approval
// engine when the active policy demands multi-signature consent.
func (s *Server) userStatusAction(w http.ResponseWriter, r *http.Request, kind, status string) {
	userID := chi.URLParam(r, "user_id")
	who := actor(r)
	if !s.hasUser(userID) {
		s.Audit.Log(r.Context(), kind, who, fmt.Sprintf("user %s not found", userID), models.StatusFailed)
		httpx.Error(w, 404, "user not found")
		return
	}
	act := gatedAction{Kind: kind, Actor: who, UserIDs: []string{userID}, NewStatus: status}
	if s.quorumRequired(0) {
		session := s.openSession(r.Context(), kind, userID, act)
		httpx.WriteJSON(w, 202, session)
		return
	}
	user, err := s.setUserStatus(r.Context(), userID, status)
	if err != nil {
		s.Audit.Log(r.Context(), kind, who, err.Error(), models.StatusFailed)
		httpx.Error(w, 500, err.Error())
		return
	}
	s.Metrics.IncAction(kind)
	s.Audit.Log(r.Context(), kind, who,
		fmt.Sprintf("%s -> %s", user.Email, status), models.StatusSuccess)
	s.publish(stream.EventUserChanged, user)
	httpx.WriteJSON(w, 200, user)
}

type bulkUserRequest struct {
	Action  string   `json:"action"`
	UserIDs []string `json:"user_ids"`
	Amount  float64  `json:"amount,omitempty"`
}

func (s *Server) bulkUserAction(w http.ResponseWriter, r *http.Request) {
	var req bulkUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	var status string
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "activate":
		status = models.UserActive
	case "suspend":
		status = models.UserSuspended
	case "revoke":
		status = models.UserRevoked
	default:
		httpx.Error(w, 400, "action must be activate, suspend or revoke")
		return
	}
	ids := dedupeIDs(req.UserIDs)
	if len(ids) == 0 {
		httpx.Error(w, 400, "user_ids required")
		return
	}
	for _, id := range ids {
		if !s.hasUser(id) {
			httpx.Error(w, 404, fmt.Sprintf("user %s not found", id))
			return
		}
	}
	who := actor(r)
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		fresh, err := s.Cache.SetNX(r.Context(), "bulk:"+who+":"+key, "1", 10*time.Minute)
		if err == nil && !fresh {
			httpx.Error(w, 409, "duplicate bulk request")
			return
		}
	}
	act := gatedAction{Kind: actionBulkUserUpdate, Actor: who, UserIDs: ids, NewStatus: status}
	if status != models.UserActive && s.quorumRequired(req.Amount) {
		subject := fmt.Sprintf("%d users", len(ids))
		session := s.openSession(r.Context(), actionBulkUserUpdate, subject, act)
		httpx.WriteJSON(w, 202, session)
		return
	}
	updated, err := s.applyBulk(r.Context(), act)
	if err != nil {
		s.Audit.Log(r.Context(), actionBulkUserUpdate, who, err.Error(), models.StatusFailed)
		httpx.Error(w, 500, err.Error())
		return
	}
	s.Metrics.IncAction(actionBulkUserUpdate)
	s.Audit.Log(r.Context(), actionBulkUserUpdate, who,
		fmt.Sprintf("%d users -> %s", len(updated), status), models.StatusSuccess)
	httpx.WriteJSON(w, 200, map[string]interface{}{"users": updated})
}

func (s *Server) applyBulk(ctx context.Context, act gatedAction) ([]models.User, error) {
	updated := make([]models.User, 0, len(act.UserIDs))
	for _, id := range act.UserIDs {
		user, err := s.setUserStatus(ctx, id, act.NewStatus)
		if err != nil {
			return updated, err
		}
		s.publish(stream.EventUserChanged, user)
		updated = append(updated, user)
	}
	return updated, nil
}

func dedupeIDs(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
