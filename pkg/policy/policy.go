package policy

import (
	"errors"
	"math"

	"rolegate/pkg/models"
)

var (
	ErrQuorumFull            = errors.New("signer quorum is full")
	ErrInvalidAmount         = errors.New("auto-approve amount must be a finite non-negative number")
	ErrInvalidRotationPeriod = errors.New("key rotation period must be at least 30 days")
	ErrUnknownConsensusType  = errors.New("unknown consensus type")
	ErrSignerNotInPool       = errors.New("signer is not in the eligible pool")
)

// Consensus types and the signer pool size each one requires.
const (
	Consensus2of3 = "2of3"
	Consensus3of4 = "3of4"
	Consensus3of5 = "3of5"
	Consensus4of5 = "4of5"
)

var requiredByConsensus = map[string]int{
	Consensus2of3: 3,
	Consensus3of4: 4,
	Consensus3of5: 5,
	Consensus4of5: 5,
}

// MinKeyRotationDays is the floor for the rotation period.
const MinKeyRotationDays = 30

// Default returns the policy active at process start.
func Default() models.ConsensusPolicy {
	return models.ConsensusPolicy{
		ConsensusType:      Consensus2of3,
		RequiredSignatures: requiredByConsensus[Consensus2of3],
		SelectedSigners:    []string{},
		AutoApproveLimit:   100000,
		AutoApproveEnabled: true,
		KeyRotationDays:    180,
		EnforceKeyRotation: true,
		RequireMultiSig:    true,
	}
}

// RequiredSignatures resolves a consensus type against the fixed table.
func RequiredSignatures(consensusType string) (int, error) {
	n, ok := requiredByConsensus[consensusType]
	if !ok {
		return 0, ErrUnknownConsensusType
	}
	return n, nil
}

// SetConsensusType recomputes RequiredSignatures and clears SelectedSigners:
// signers must be re-selected against the new quorum size. Unknown types
// leave the policy unchanged.
func SetConsensusType(p models.ConsensusPolicy, consensusType string) models.ConsensusPolicy {
	required, err := RequiredSignatures(consensusType)
	if err != nil {
		return p
	}
	p.ConsensusType = consensusType
	p.RequiredSignatures = required
	p.SelectedSigners = []string{}
	return p
}

// ToggleSigner adds signerID to the selection when it is part of the pool
// and the quorum is not yet full; removes it when already selected. Removal
// always succeeds.
func ToggleSigner(p models.ConsensusPolicy, signerID string, pool []models.Signer) (models.ConsensusPolicy, error) {
	for i, id := range p.SelectedSigners {
		if id == signerID {
			selected := make([]string, 0, len(p.SelectedSigners)-1)
			selected = append(selected, p.SelectedSigners[:i]...)
			selected = append(selected, p.SelectedSigners[i+1:]...)
			p.SelectedSigners = selected
			return p, nil
		}
	}
	if !inPool(signerID, pool) {
		return p, ErrSignerNotInPool
	}
	if len(p.SelectedSigners) >= p.RequiredSignatures {
		return p, ErrQuorumFull
	}
	selected := make([]string, len(p.SelectedSigners), len(p.SelectedSigners)+1)
	copy(selected, p.SelectedSigners)
	p.SelectedSigners = append(selected, signerID)
	return p, nil
}

func inPool(signerID string, pool []models.Signer) bool {
	for _, s := range pool {
		if s.ID == signerID {
			return true
		}
	}
	return false
}

// Activatable reports whether the policy may gate live actions: the signer
// selection must exactly fill the quorum.
func Activatable(p models.ConsensusPolicy) bool {
	return p.RequiredSignatures > 0 && len(p.SelectedSigners) == p.RequiredSignatures
}

func SetAutoApproveLimit(p models.ConsensusPolicy, amount float64) (models.ConsensusPolicy, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return p, ErrInvalidAmount
	}
	p.AutoApproveLimit = amount
	return p, nil
}

func SetKeyRotationDays(p models.ConsensusPolicy, days int) (models.ConsensusPolicy, error) {
	if days < MinKeyRotationDays {
		return p, ErrInvalidRotationPeriod
	}
	p.KeyRotationDays = days
	return p, nil
}

// AutoApproved reports whether an action carrying the given amount bypasses
// multi-sig under the policy.
func AutoApproved(p models.ConsensusPolicy, amount float64) bool {
	if !p.AutoApproveEnabled {
		return false
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false
	}
	return amount <= p.AutoApproveLimit
}

// Validate checks an externally supplied policy before it is saved.
func Validate(p models.ConsensusPolicy) error {
	required, err := RequiredSignatures(p.ConsensusType)
	if err != nil {
		return err
	}
	if p.RequiredSignatures != required {
		return ErrUnknownConsensusType
	}
	if len(p.SelectedSigners) > required {
		return ErrQuorumFull
	}
	if p.AutoApproveLimit < 0 || math.IsNaN(p.AutoApproveLimit) || math.IsInf(p.AutoApproveLimit, 0) {
		return ErrInvalidAmount
	}
	if p.KeyRotationDays < MinKeyRotationDays {
		return ErrInvalidRotationPeriod
	}
	return nil
}
