package rbac

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead Action = "read"
	// ActionConfigure covers board configs, access mappings, views and clients.
	ActionConfigure   Action = "configure"
	ActionManageUsers Action = "manage_users"
	ActionImpersonate Action = "impersonate"
	ActionExecute     Action = "execute"
	ActionBilling     Action = "billing"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleAdmin:
		return action == ActionRead || action == ActionConfigure || action == ActionManageUsers || action == ActionExecute
	case RoleMember:
		return action == ActionRead || action == ActionExecute
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin, RoleOwner:
		return Role(role)
	default:
		return RoleMember
	}
}

// Member statuses.
const (
	StatusActive   = "active"
	StatusPending  = "pending"
	StatusDisabled = "disabled"
)

func ValidStatus(status string) bool {
	return status == StatusActive || status == StatusPending || status == StatusDisabled
}
