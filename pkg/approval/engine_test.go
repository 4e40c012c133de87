package approval

import (
	"errors"
	"sync"
	"testing"
	"time"

	"rolegate/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testPolicy(required int, signers ...string) models.ConsensusPolicy {
	return models.ConsensusPolicy{
		ConsensusType:      "2of3",
		RequiredSignatures: required,
		SelectedSigners:    signers,
	}
}

func TestCreateSessionSnapshotsPolicy(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))
	pol := testPolicy(3, "a", "b", "c")
	session := e.CreateSession("Policy Update", "2of3", pol)
	if session.State != Pending {
		t.Fatalf("expected pending, got %s", session.State)
	}
	if session.RequiredSignatures != 3 || len(session.Signers) != 3 {
		t.Fatalf("snapshot wrong: %d/%v", session.RequiredSignatures, session.Signers)
	}
	if !session.ExpiresAt.Equal(session.CreatedAt.Add(DefaultTimeout)) {
		t.Fatalf("expected 30m window, got %v", session.ExpiresAt.Sub(session.CreatedAt))
	}

	// mutating the policy afterwards must not reach the session
	pol.SelectedSigners[0] = "z"
	got, err := e.Get(session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Signers[0] != "a" {
		t.Fatal("session signer snapshot shares memory with the policy")
	}
}

func TestQuorumReachedExactlyAtRequired(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))
	session := e.CreateSession("Policy Update", "", testPolicy(3, "a", "b", "c"))

	s1, err := e.RecordApproval(session.ID, "a")
	if err != nil || s1.State != Pending {
		t.Fatalf("first approval: %s (%v)", s1.State, err)
	}
	s2, err := e.RecordApproval(session.ID, "b")
	if err != nil || s2.State != Pending {
		t.Fatalf("second approval: %s (%v)", s2.State, err)
	}
	s3, err := e.RecordApproval(session.ID, "c")
	if err != nil {
		t.Fatalf("third approval: %v", err)
	}
	if s3.State != Approved {
		t.Fatalf("expected approved at quorum, got %s", s3.State)
	}
	if len(s3.Approvals) != 3 {
		t.Fatalf("expected 3 approvals recorded, got %d", len(s3.Approvals))
	}
}

func TestDuplicateApprovalRejected(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))
	session := e.CreateSession("Policy Update", "", testPolicy(3, "a", "b", "c"))
	if _, err := e.RecordApproval(session.ID, "a"); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	got, err := e.RecordApproval(session.ID, "a")
	if !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("expected ErrAlreadyApproved, got %v", err)
	}
	if len(got.Approvals) != 1 {
		t.Fatalf("duplicate must not add an approval: %d", len(got.Approvals))
	}
}

func TestUnknownSignerNotEligible(t *testing.T) {
	e := NewEngine(WithClock(newFakeClock().Now))
	session := e.CreateSession("Policy Update", "", testPolicy(3, "a", "b", "c"))
	if _, err := e.RecordApproval(session.ID, "intruder"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestExpiryWinsTieWithFinalApproval(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))
	session := e.CreateSession("Policy Update", "", testPolicy(2, "a", "b", "c"))
	if _, err := e.RecordApproval(session.ID, "a"); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	// land exactly on the deadline: expiry is authoritative
	clock.Advance(DefaultTimeout)
	got, err := e.RecordApproval(session.ID, "b")
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed at deadline, got %v", err)
	}
	if got.State != Expired {
		t.Fatalf("expected expired, got %s", got.State)
	}
}

func TestApprovalJustBeforeDeadlineCounts(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))
	session := e.CreateSession("Policy Update", "", testPolicy(2, "a", "b"))
	if _, err := e.RecordApproval(session.ID, "a"); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	clock.Advance(DefaultTimeout - time.Second)
	got, err := e.RecordApproval(session.ID, "b")
	if err != nil {
		t.Fatalf("approval inside window: %v", err)
	}
	if got.State != Approved {
		t.Fatalf("expected approved, got %s", got.State)
	}
}

func TestSessionExpiresAfterTimeout(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))
	session := e.CreateSession("User Revocation", "u1", testPolicy(3, "a", "b", "c"))
	clock.Advance(30*time.Minute + time.Second)
	got := e.Tick(session.ID, clock.Now())
	if got.State != Expired {
		t.Fatalf("expected expired after 1801s, got %s", got.State)
	}
}

func TestTickIdempotent(t *testing.T) {
	clock := newFakeClock()
	transitions := 0
	e := NewEngine(WithClock(clock.Now), WithTransitionHook(func(Transition) { transitions++ }))
	session := e.CreateSession("Policy Update", "", testPolicy(2, "a", "b"))
	clock.Advance(DefaultTimeout)
	for i := 0; i < 3; i++ {
		got := e.Tick(session.ID, clock.Now())
		if got.State != Expired {
			t.Fatalf("tick %d: expected expired, got %s", i, got.State)
		}
	}
	if transitions != 1 {
		t.Fatalf("expiry must fire its hook exactly once, got %d", transitions)
	}
}

func TestTickBeforeDeadlineKeepsPending(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))
	session := e.CreateSession("Policy Update", "", testPolicy(2, "a", "b"))
	clock.Advance(DefaultTimeout - time.Millisecond)
	if got := e.Tick(session.ID, clock.Now()); got.State != Pending {
		t.Fatalf("expected pending before deadline, got %s", got.State)
	}
}

func TestTickAllSweepsOnlyExpired(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now), WithTimeout(10*time.Minute))
	old := e.CreateSession("Policy Update", "", testPolicy(2, "a", "b"))
	clock.Advance(5 * time.Minute)
	fresh := e.CreateSession("Policy Update", "", testPolicy(2, "a", "b"))
	clock.Advance(6 * time.Minute)
	expired := e.TickAll(clock.Now())
	if len(expired) != 1 || expired[0].ID != old.ID {
		t.Fatalf("expected only the old session to expire, got %v", expired)
	}
	got, err := e.Get(fresh.ID)
	if err != nil || got.State != Pending {
		t.Fatalf("fresh session must stay pending: %s (%v)", got.State, err)
	}
}

func TestRejectByEligibleSigner(t *testing.T) {
	e := NewEngine(WithClock(newFakeClock().Now))
	session := e.CreateSession("Policy Update", "", testPolicy(2, "a", "b"))
	if _, err := e.Reject(session.ID, "outsider"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible for outsider veto, got %v", err)
	}
	got, err := e.Reject(session.ID, "b")
	if err != nil || got.State != Rejected {
		t.Fatalf("expected rejected, got %s (%v)", got.State, err)
	}
	if _, err := e.RecordApproval(session.ID, "a"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("rejected session must not take approvals, got %v", err)
	}
}

func TestCancelOnlyPending(t *testing.T) {
	e := NewEngine(WithClock(newFakeClock().Now))
	session := e.CreateSession("Policy Update", "", testPolicy(1, "a"))
	if _, err := e.RecordApproval(session.ID, "a"); err != nil {
		t.Fatalf("approval: %v", err)
	}
	if _, err := e.Cancel(session.ID); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed cancelling approved session, got %v", err)
	}

	second := e.CreateSession("Policy Update", "", testPolicy(2, "a", "b"))
	got, err := e.Cancel(second.ID)
	if err != nil || got.State != Cancelled {
		t.Fatalf("expected cancelled, got %s (%v)", got.State, err)
	}
}

func TestApprovalsAfterTerminalStateFail(t *testing.T) {
	e := NewEngine(WithClock(newFakeClock().Now))
	session := e.CreateSession("Policy Update", "", testPolicy(1, "a"))
	if _, err := e.RecordApproval(session.ID, "a"); err != nil {
		t.Fatalf("approval: %v", err)
	}
	if _, err := e.RecordApproval(session.ID, "a"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed on approved session, got %v", err)
	}
}

func TestListFiltersByState(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))
	first := e.CreateSession("Policy Update", "", testPolicy(1, "a"))
	clock.Advance(time.Second)
	e.CreateSession("User Revocation", "u1", testPolicy(2, "a", "b"))
	if _, err := e.RecordApproval(first.ID, "a"); err != nil {
		t.Fatalf("approval: %v", err)
	}
	pending := e.List(Pending)
	if len(pending) != 1 || pending[0].ActionType != "User Revocation" {
		t.Fatalf("unexpected pending list: %v", pending)
	}
	all := e.List("")
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}
	if !all[0].CreatedAt.After(all[1].CreatedAt) {
		t.Fatal("expected newest-first ordering")
	}
}

func TestRemoveOnlyTerminal(t *testing.T) {
	e := NewEngine(WithClock(newFakeClock().Now))
	session := e.CreateSession("Policy Update", "", testPolicy(1, "a"))
	if e.Remove(session.ID) {
		t.Fatal("pending session must not be removable")
	}
	if _, err := e.RecordApproval(session.ID, "a"); err != nil {
		t.Fatalf("approval: %v", err)
	}
	if !e.Remove(session.ID) {
		t.Fatal("terminal session should be removable")
	}
	if _, err := e.Get(session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestConcurrentApprovalsSingleQuorum(t *testing.T) {
	clock := newFakeClock()
	approvedTransitions := 0
	var hookMu sync.Mutex
	e := NewEngine(WithClock(clock.Now), WithTransitionHook(func(tr Transition) {
		if tr.To == Approved {
			hookMu.Lock()
			approvedTransitions++
			hookMu.Unlock()
		}
	}))
	signers := []string{"a", "b", "c", "d", "e"}
	session := e.CreateSession("Policy Update", "", testPolicy(5, signers...))

	var wg sync.WaitGroup
	for _, id := range signers {
		wg.Add(1)
		go func(signer string) {
			defer wg.Done()
			_, _ = e.RecordApproval(session.ID, signer)
		}(id)
	}
	wg.Wait()
	got, err := e.Get(session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != Approved || len(got.Approvals) != 5 {
		t.Fatalf("expected approved with 5 approvals, got %s/%d", got.State, len(got.Approvals))
	}
	if approvedTransitions != 1 {
		t.Fatalf("quorum transition must fire once, got %d", approvedTransitions)
	}
}

func TestCanTransitionMatrix(t *testing.T) {
	for _, terminal := range []string{Approved, Rejected, Expired, Cancelled} {
		if !CanTransition(Pending, terminal) {
			t.Fatalf("pending -> %s must be allowed", terminal)
		}
		if CanTransition(terminal, Pending) {
			t.Fatalf("%s -> pending must be forbidden", terminal)
		}
		if !IsTerminal(terminal) {
			t.Fatalf("%s must be terminal", terminal)
		}
	}
	if IsTerminal(Pending) {
		t.Fatal("pending is not terminal")
	}
}
