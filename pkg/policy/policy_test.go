package policy

import (
	"errors"
	"math"
	"testing"

	"rolegate/pkg/models"
)

func testPool(ids ...string) []models.Signer {
	pool := make([]models.Signer, 0, len(ids))
	for _, id := range ids {
		pool = append(pool, models.Signer{ID: id, Role: models.RoleOwner})
	}
	return pool
}

func TestRequiredSignaturesTable(t *testing.T) {
	cases := map[string]int{
		Consensus2of3: 3,
		Consensus3of4: 4,
		Consensus3of5: 5,
		Consensus4of5: 5,
	}
	for consensusType, want := range cases {
		got, err := RequiredSignatures(consensusType)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", consensusType, err)
		}
		if got != want {
			t.Fatalf("%s: expected %d required signatures, got %d", consensusType, want, got)
		}
	}
	if _, err := RequiredSignatures("5of7"); !errors.Is(err, ErrUnknownConsensusType) {
		t.Fatalf("expected ErrUnknownConsensusType, got %v", err)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	if p.ConsensusType != Consensus2of3 || p.RequiredSignatures != 3 {
		t.Fatalf("unexpected default consensus: %s/%d", p.ConsensusType, p.RequiredSignatures)
	}
	if p.AutoApproveLimit != 100000 || !p.AutoApproveEnabled {
		t.Fatalf("unexpected auto-approve defaults: %v %v", p.AutoApproveLimit, p.AutoApproveEnabled)
	}
	if p.KeyRotationDays != 180 || !p.EnforceKeyRotation || !p.RequireMultiSig {
		t.Fatal("unexpected rotation/multisig defaults")
	}
	if len(p.SelectedSigners) != 0 {
		t.Fatal("default policy must start with no selected signers")
	}
}

func TestSetConsensusTypeClearsSigners(t *testing.T) {
	p := Default()
	pool := testPool("a", "b", "c")
	p, err := ToggleSigner(p, "a", pool)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	p = SetConsensusType(p, Consensus3of4)
	if p.ConsensusType != Consensus3of4 || p.RequiredSignatures != 4 {
		t.Fatalf("consensus not updated: %s/%d", p.ConsensusType, p.RequiredSignatures)
	}
	if len(p.SelectedSigners) != 0 {
		t.Fatalf("signers must be cleared on consensus change, got %v", p.SelectedSigners)
	}
}

func TestSetConsensusTypeUnknownIsNoop(t *testing.T) {
	p := Default()
	p.SelectedSigners = []string{"a"}
	got := SetConsensusType(p, "1of2")
	if got.ConsensusType != Consensus2of3 || len(got.SelectedSigners) != 1 {
		t.Fatalf("unknown consensus type must leave policy unchanged: %+v", got)
	}
}

func TestToggleSignerAddRemove(t *testing.T) {
	p := Default()
	pool := testPool("a", "b", "c", "d")
	var err error
	for _, id := range []string{"a", "b", "c"} {
		p, err = ToggleSigner(p, id, pool)
		if err != nil {
			t.Fatalf("toggle %s: %v", id, err)
		}
	}
	if !Activatable(p) {
		t.Fatal("expected activatable with full quorum")
	}
	if _, err := ToggleSigner(p, "d", pool); !errors.Is(err, ErrQuorumFull) {
		t.Fatalf("expected ErrQuorumFull, got %v", err)
	}
	// removal always succeeds, even at capacity
	p, err = ToggleSigner(p, "b", pool)
	if err != nil {
		t.Fatalf("removal: %v", err)
	}
	if len(p.SelectedSigners) != 2 || Activatable(p) {
		t.Fatalf("unexpected selection after removal: %v", p.SelectedSigners)
	}
	p, err = ToggleSigner(p, "d", pool)
	if err != nil {
		t.Fatalf("re-add after removal: %v", err)
	}
	if len(p.SelectedSigners) != 3 {
		t.Fatalf("expected 3 selected, got %v", p.SelectedSigners)
	}
}

func TestToggleSignerOutsidePool(t *testing.T) {
	p := Default()
	if _, err := ToggleSigner(p, "ghost", testPool("a", "b", "c")); !errors.Is(err, ErrSignerNotInPool) {
		t.Fatalf("expected ErrSignerNotInPool, got %v", err)
	}
}

func TestToggleSignerDoesNotMutateInput(t *testing.T) {
	p := Default()
	p.SelectedSigners = []string{"a", "b"}
	before := append([]string(nil), p.SelectedSigners...)
	out, err := ToggleSigner(p, "c", testPool("a", "b", "c"))
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if len(p.SelectedSigners) != len(before) || p.SelectedSigners[0] != "a" || p.SelectedSigners[1] != "b" {
		t.Fatalf("input policy mutated: %v", p.SelectedSigners)
	}
	if len(out.SelectedSigners) != 3 {
		t.Fatalf("expected 3 selected in result, got %v", out.SelectedSigners)
	}
}

func TestSetAutoApproveLimit(t *testing.T) {
	p := Default()
	p, err := SetAutoApproveLimit(p, 2500)
	if err != nil || p.AutoApproveLimit != 2500 {
		t.Fatalf("expected limit 2500, got %v (%v)", p.AutoApproveLimit, err)
	}
	if _, err := SetAutoApproveLimit(p, -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
	if _, err := SetAutoApproveLimit(p, math.NaN()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for NaN, got %v", err)
	}
	if _, err := SetAutoApproveLimit(p, math.Inf(1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for +Inf, got %v", err)
	}
	if p, err := SetAutoApproveLimit(p, 0); err != nil || p.AutoApproveLimit != 0 {
		t.Fatalf("zero is a valid limit: %v (%v)", p.AutoApproveLimit, err)
	}
}

func TestSetKeyRotationDays(t *testing.T) {
	p := Default()
	if _, err := SetKeyRotationDays(p, 29); !errors.Is(err, ErrInvalidRotationPeriod) {
		t.Fatalf("expected ErrInvalidRotationPeriod, got %v", err)
	}
	p, err := SetKeyRotationDays(p, MinKeyRotationDays)
	if err != nil || p.KeyRotationDays != 30 {
		t.Fatalf("expected 30 days accepted, got %v (%v)", p.KeyRotationDays, err)
	}
}

func TestAutoApproved(t *testing.T) {
	p := Default()
	p.AutoApproveLimit = 1000
	if !AutoApproved(p, 1000) {
		t.Fatal("amount at the limit must auto-approve")
	}
	if AutoApproved(p, 1000.01) {
		t.Fatal("amount above the limit must not auto-approve")
	}
	p.AutoApproveEnabled = false
	if AutoApproved(p, 1) {
		t.Fatal("disabled auto-approve must never pass")
	}
	p.AutoApproveEnabled = true
	if AutoApproved(p, math.NaN()) || AutoApproved(p, -5) {
		t.Fatal("non-finite or negative amounts must never auto-approve")
	}
}

func TestValidate(t *testing.T) {
	p := Default()
	if err := Validate(p); err != nil {
		t.Fatalf("default policy must validate: %v", err)
	}
	bad := p
	bad.ConsensusType = "9of9"
	if err := Validate(bad); !errors.Is(err, ErrUnknownConsensusType) {
		t.Fatalf("expected ErrUnknownConsensusType, got %v", err)
	}
	bad = p
	bad.RequiredSignatures = 4
	if err := Validate(bad); !errors.Is(err, ErrUnknownConsensusType) {
		t.Fatalf("expected mismatch rejection, got %v", err)
	}
	bad = p
	bad.SelectedSigners = []string{"a", "b", "c", "d"}
	if err := Validate(bad); !errors.Is(err, ErrQuorumFull) {
		t.Fatalf("expected ErrQuorumFull, got %v", err)
	}
	bad = p
	bad.AutoApproveLimit = -10
	if err := Validate(bad); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	bad = p
	bad.KeyRotationDays = 7
	if err := Validate(bad); !errors.Is(err, ErrInvalidRotationPeriod) {
		t.Fatalf("expected ErrInvalidRotationPeriod, got %v", err)
	}
}
