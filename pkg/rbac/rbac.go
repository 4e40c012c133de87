package rbac

import "rolegate/pkg/models"

// Descriptions is the exhaustive role description map. Keyed by the Role
// enum so a new role fails loudly here instead of falling through a string
// switch.
var Descriptions = map[models.Role]string{
	models.RoleSuperAdmin:        "Full platform control, including user and policy administration",
	models.RoleOwner:             "Business owner with approval authority over sensitive actions",
	models.RoleComplianceManager: "Manages compliance workflows and approves gated operations",
	models.RoleAgent:             "Operational account with day-to-day, non-administrative access",
	models.RoleComplianceOfficer: "Reviews audit trails and signs off on regulated activity",
}

// ApprovalEligible marks the roles whose holders may act as signers in a
// multi-signature quorum.
var ApprovalEligible = map[models.Role]bool{
	models.RoleSuperAdmin:        true,
	models.RoleOwner:             true,
	models.RoleComplianceManager: true,
	models.RoleAgent:             false,
	models.RoleComplianceOfficer: true,
}

// Eligible reports whether a role may approve gated actions.
func Eligible(role models.Role) bool {
	return ApprovalEligible[role]
}

// SignerPool filters active, approval-eligible users into the signer pool a
// policy selects from.
func SignerPool(users []models.User) []models.Signer {
	pool := make([]models.Signer, 0, len(users))
	for _, u := range users {
		if u.Status != models.UserActive {
			continue
		}
		if !Eligible(u.Role) {
			continue
		}
		pool = append(pool, models.Signer{ID: u.ID, Name: u.Name, Role: u.Role})
	}
	return pool
}

// DefaultPermissions is the matrix seeded when no saved matrix exists.
func DefaultPermissions() []models.Permission {
	return []models.Permission{
		{
			FunctionName: "User Management",
			Description:  "Create, suspend and revoke platform users",
			Roles: map[models.Role]models.PermissionStatus{
				models.RoleSuperAdmin:        models.PermissionGranted,
				models.RoleOwner:             models.PermissionGranted,
				models.RoleComplianceManager: models.PermissionLimited,
				models.RoleAgent:             models.PermissionDenied,
				models.RoleComplianceOfficer: models.PermissionDenied,
			},
		},
		{
			FunctionName: "Policy Configuration",
			Description:  "Edit consensus, auto-approve and key-rotation policy",
			Roles: map[models.Role]models.PermissionStatus{
				models.RoleSuperAdmin:        models.PermissionGranted,
				models.RoleOwner:             models.PermissionGranted,
				models.RoleComplianceManager: models.PermissionDenied,
				models.RoleAgent:             models.PermissionDenied,
				models.RoleComplianceOfficer: models.PermissionDenied,
			},
		},
		{
			FunctionName: "Permission Matrix Editing",
			Description:  "Change role-to-function grants",
			Roles: map[models.Role]models.PermissionStatus{
				models.RoleSuperAdmin:        models.PermissionGranted,
				models.RoleOwner:             models.PermissionLimited,
				models.RoleComplianceManager: models.PermissionDenied,
				models.RoleAgent:             models.PermissionDenied,
				models.RoleComplianceOfficer: models.PermissionDenied,
			},
		},
		{
			FunctionName: "Audit Log Access",
			Description:  "View and export the audit trail",
			Roles: map[models.Role]models.PermissionStatus{
				models.RoleSuperAdmin:        models.PermissionGranted,
				models.RoleOwner:             models.PermissionGranted,
				models.RoleComplianceManager: models.PermissionGranted,
				models.RoleAgent:             models.PermissionDenied,
				models.RoleComplianceOfficer: models.PermissionGranted,
			},
		},
		{
			FunctionName: "Approval Signing",
			Description:  "Approve or reject multi-signature sessions",
			Roles: map[models.Role]models.PermissionStatus{
				models.RoleSuperAdmin:        models.PermissionGranted,
				models.RoleOwner:             models.PermissionGranted,
				models.RoleComplianceManager: models.PermissionGranted,
				models.RoleAgent:             models.PermissionDenied,
				models.RoleComplianceOfficer: models.PermissionGranted,
			},
		},
		{
			FunctionName: "Bulk Operations",
			Description:  "Apply revoke, suspend or reassignment to a selection",
			Roles: map[models.Role]models.PermissionStatus{
				models.RoleSuperAdmin:        models.PermissionGranted,
				models.RoleOwner:             models.PermissionLimited,
				models.RoleComplianceManager: models.PermissionDenied,
				models.RoleAgent:             models.PermissionDenied,
				models.RoleComplianceOfficer: models.PermissionDenied,
			},
		},
	}
}
