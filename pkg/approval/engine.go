package approval

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rolegate/pkg/models"
)

// DefaultTimeout is the window a session stays open for approvals.
const DefaultTimeout = 30 * time.Minute

// Clock supplies the current time; tests inject a simulated one.
type Clock func() time.Time

// Transition describes a session state change the engine observed.
type Transition struct {
	Session  models.ApprovalSession
	From     string
	To       string
	SignerID string
}

// Engine owns every live approval session. Sessions are mutated only behind
// the session lock, so approvals from concurrent callers serialize and the
// approval that reaches quorum is deterministic.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*session
	now      Clock
	timeout  time.Duration
	onChange func(Transition)
}

type session struct {
	mu    sync.Mutex
	state models.ApprovalSession
}

type Option func(*Engine)

func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTransitionHook registers a callback invoked after every state change,
// outside the session lock.
func WithTransitionHook(fn func(Transition)) Option {
	return func(e *Engine) { e.onChange = fn }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		sessions: map[string]*session{},
		now:      func() time.Time { return time.Now().UTC() },
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateSession opens a Pending session for a gated action. The required
// signature count and the authorized signer set are copied from the policy
// now; later policy edits do not reach in-flight sessions.
func (e *Engine) CreateSession(actionType, subjectID string, pol models.ConsensusPolicy) models.ApprovalSession {
	now := e.now()
	signers := make([]string, len(pol.SelectedSigners))
	copy(signers, pol.SelectedSigners)
	st := models.ApprovalSession{
		ID:                 uuid.New().String(),
		ActionType:         actionType,
		SubjectID:          subjectID,
		RequiredSignatures: pol.RequiredSignatures,
		Signers:            signers,
		Approvals:          []models.Approval{},
		State:              Pending,
		CreatedAt:          now,
		ExpiresAt:          now.Add(e.timeout),
	}
	e.mu.Lock()
	e.sessions[st.ID] = &session{state: st}
	e.mu.Unlock()
	return st
}

func (e *Engine) lookup(id string) (*session, bool) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	return s, ok
}

// Get returns a copy of the session.
func (e *Engine) Get(id string) (models.ApprovalSession, error) {
	s, ok := e.lookup(id)
	if !ok {
		return models.ApprovalSession{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySession(s.state), nil
}

// List returns every session, newest first, optionally filtered by state.
func (e *Engine) List(state string) []models.ApprovalSession {
	e.mu.RLock()
	out := make([]models.ApprovalSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		s.mu.Lock()
		if state == "" || s.state.State == state {
			out = append(out, copySession(s.state))
		}
		s.mu.Unlock()
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// RecordApproval records one approval from signerID. Expiry is checked
// first, so an approval arriving at or after the deadline fails with
// ErrSessionClosed even when it would have completed the quorum.
func (e *Engine) RecordApproval(id, signerID string) (models.ApprovalSession, error) {
	s, ok := e.lookup(id)
	if !ok {
		return models.ApprovalSession{}, ErrNotFound
	}
	s.mu.Lock()
	now := e.now()
	if tr, changed := e.expireLocked(s, now); changed {
		s.mu.Unlock()
		e.emit(tr)
		return tr.Session, ErrSessionClosed
	}
	if s.state.State != Pending {
		st := copySession(s.state)
		s.mu.Unlock()
		return st, ErrSessionClosed
	}
	if !contains(s.state.Signers, signerID) {
		st := copySession(s.state)
		s.mu.Unlock()
		return st, ErrNotEligible
	}
	for _, a := range s.state.Approvals {
		if a.SignerID == signerID {
			st := copySession(s.state)
			s.mu.Unlock()
			return st, ErrAlreadyApproved
		}
	}
	s.state.Approvals = append(s.state.Approvals, models.Approval{SignerID: signerID, At: now})
	if QuorumReached(len(s.state.Approvals), s.state.RequiredSignatures) {
		s.state.State = Approved
		st := copySession(s.state)
		s.mu.Unlock()
		e.emit(Transition{Session: st, From: Pending, To: Approved, SignerID: signerID})
		return st, nil
	}
	st := copySession(s.state)
	s.mu.Unlock()
	return st, nil
}

// Reject lets an eligible signer veto a pending session.
func (e *Engine) Reject(id, signerID string) (models.ApprovalSession, error) {
	return e.close(id, signerID, Rejected, true)
}

// Cancel closes a pending session without quorum.
func (e *Engine) Cancel(id string) (models.ApprovalSession, error) {
	return e.close(id, "", Cancelled, false)
}

func (e *Engine) close(id, signerID, to string, checkSigner bool) (models.ApprovalSession, error) {
	s, ok := e.lookup(id)
	if !ok {
		return models.ApprovalSession{}, ErrNotFound
	}
	s.mu.Lock()
	now := e.now()
	if tr, changed := e.expireLocked(s, now); changed {
		s.mu.Unlock()
		e.emit(tr)
		return tr.Session, ErrSessionClosed
	}
	if s.state.State != Pending {
		st := copySession(s.state)
		s.mu.Unlock()
		return st, ErrSessionClosed
	}
	if checkSigner && !contains(s.state.Signers, signerID) {
		st := copySession(s.state)
		s.mu.Unlock()
		return st, ErrNotEligible
	}
	s.state.State = to
	st := copySession(s.state)
	s.mu.Unlock()
	e.emit(Transition{Session: st, From: Pending, To: to, SignerID: signerID})
	return st, nil
}

// Tick expires the session when the deadline has passed. Idempotent and
// infallible; safe to call on every scheduler interval.
func (e *Engine) Tick(id string, now time.Time) models.ApprovalSession {
	s, ok := e.lookup(id)
	if !ok {
		return models.ApprovalSession{}
	}
	s.mu.Lock()
	tr, changed := e.expireLocked(s, now)
	st := copySession(s.state)
	s.mu.Unlock()
	if changed {
		e.emit(tr)
	}
	return st
}

// TickAll sweeps every pending session against now and returns the sessions
// that expired.
func (e *Engine) TickAll(now time.Time) []models.ApprovalSession {
	e.mu.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()
	var expired []models.ApprovalSession
	for _, s := range sessions {
		s.mu.Lock()
		tr, changed := e.expireLocked(s, now)
		s.mu.Unlock()
		if changed {
			e.emit(tr)
			expired = append(expired, tr.Session)
		}
	}
	return expired
}

// expireLocked transitions to Expired when the deadline is reached. The
// deadline itself counts as expired, so expiry wins a tie with an approval.
func (e *Engine) expireLocked(s *session, now time.Time) (Transition, bool) {
	if s.state.State != Pending {
		return Transition{}, false
	}
	if now.Before(s.state.ExpiresAt) {
		return Transition{}, false
	}
	s.state.State = Expired
	return Transition{Session: copySession(s.state), From: Pending, To: Expired}, true
}

// Remove drops a terminal session from the engine after archival. Pending
// sessions are never removed.
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return false
	}
	s.mu.Lock()
	terminal := IsTerminal(s.state.State)
	s.mu.Unlock()
	if !terminal {
		return false
	}
	delete(e.sessions, id)
	return true
}

func (e *Engine) emit(tr Transition) {
	if e.onChange != nil {
		e.onChange(tr)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func copySession(s models.ApprovalSession) models.ApprovalSession {
	out := s
	out.Signers = append([]string(nil), s.Signers...)
	out.Approvals = append([]models.Approval(nil), s.Approvals...)
	return out
}
