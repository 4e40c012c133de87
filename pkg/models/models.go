package models

import "time"

// Role is the closed set of platform roles. Approval eligibility and
// permission defaults key off it.
type Role string

const (
	RoleSuperAdmin        Role = "Super Admin"
	RoleOwner             Role = "Owner"
	RoleComplianceManager Role = "Compliance Manager"
	RoleAgent             Role = "Agent"
	RoleComplianceOfficer Role = "Compliance Officer"
)

// Roles lists every role in display order.
var Roles = []Role{
	RoleSuperAdmin,
	RoleOwner,
	RoleComplianceManager,
	RoleAgent,
	RoleComplianceOfficer,
}

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleOwner, RoleComplianceManager, RoleAgent, RoleComplianceOfficer:
		return true
	default:
		return false
	}
}

// User account statuses.
const (
	UserActive    = "active"
	UserSuspended = "suspended"
	UserRevoked   = "revoked"
)

type User struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Email               string    `json:"email"`
	Role                Role      `json:"role"`
	Status              string    `json:"status"`
	PublicKey           string    `json:"public_key,omitempty"`
	EncryptedPrivateKey string    `json:"encrypted_private_key,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type UserCreateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Signer is a user eligible to approve gated actions.
type Signer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// PermissionStatus is tri-state: granted, denied, or limited.
type PermissionStatus string

const (
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
	PermissionLimited PermissionStatus = "limited"
)

type Permission struct {
	ID           string                    `json:"id,omitempty"`
	FunctionName string                    `json:"function_name"`
	Description  string                    `json:"description"`
	Roles        map[Role]PermissionStatus `json:"roles"`
}

type PermissionUpdate struct {
	Permissions []Permission `json:"permissions"`
	UpdatedAt   time.Time    `json:"updated_at"`
	UpdatedBy   string       `json:"updated_by"`
}

// ConsensusPolicy is the quorum configuration gating sensitive actions.
// RequiredSignatures is always derived from ConsensusType.
type ConsensusPolicy struct {
	ConsensusType      string    `json:"consensus_type"`
	RequiredSignatures int       `json:"required_signatures"`
	SelectedSigners    []string  `json:"selected_signers"`
	AutoApproveLimit   float64   `json:"auto_approve_limit"`
	AutoApproveEnabled bool      `json:"auto_approve_enabled"`
	KeyRotationDays    int       `json:"key_rotation_days"`
	EnforceKeyRotation bool      `json:"enforce_key_rotation"`
	RequireMultiSig    bool      `json:"require_multi_sig"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
	UpdatedBy          string    `json:"updated_by,omitempty"`
}

// Approval is a single recorded approval within a session.
type Approval struct {
	SignerID string    `json:"signer_id"`
	At       time.Time `json:"at"`
}

// ApprovalSession is a pending sensitive action awaiting quorum.
// RequiredSignatures and Signers are snapshots of the policy at creation;
// later policy edits never change an in-flight session.
type ApprovalSession struct {
	ID                 string     `json:"id"`
	ActionType         string     `json:"action_type"`
	SubjectID          string     `json:"subject_id,omitempty"`
	RequiredSignatures int        `json:"required_signatures"`
	Signers            []string   `json:"signers"`
	Approvals          []Approval `json:"approvals"`
	State              string     `json:"state"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
}

// AuditLogEntry is an append-only record of an administrative action or a
// session state transition.
type AuditLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"user"`
	Details   string    `json:"details"`
	Status    string    `json:"status"`
	Signature string    `json:"signature,omitempty"`
	Verified  *bool     `json:"verified,omitempty"`
}

// Audit entry statuses.
const (
	StatusSuccess         = "Success"
	StatusFailed          = "Failed"
	StatusPendingApproval = "Pending Approval"
)
