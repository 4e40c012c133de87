package approval

import "errors"

// Session states.
const (
	Pending   = "PENDING"
	Approved  = "APPROVED"
	Rejected  = "REJECTED"
	Expired   = "EXPIRED"
	Cancelled = "CANCELLED"
)

var (
	ErrNotEligible     = errors.New("signer is not authorized for this session")
	ErrAlreadyApproved = errors.New("signer has already approved")
	ErrSessionClosed   = errors.New("session is no longer pending")
	ErrNotFound        = errors.New("session not found")
)

// CanTransition reports whether a state change is legal. Every state other
// than Pending is terminal.
func CanTransition(from, to string) bool {
	if from != Pending {
		return false
	}
	switch to {
	case Approved, Rejected, Expired, Cancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(state string) bool {
	switch state {
	case Approved, Rejected, Expired, Cancelled:
		return true
	default:
		return false
	}
}

// QuorumReached reports whether the distinct approval count satisfies the
// required signature threshold.
func QuorumReached(received, required int) bool {
	if required <= 0 {
		required = 1
	}
	return received >= required
}
