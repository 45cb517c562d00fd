// Package rbac defines the role/action matrix for the three dashboard roles:
// admins run the workspace, volunteers support families, members are the
// families themselves.
package rbac

type Role string
type Action string

const (
	RoleMember    Role = "member"
	RoleVolunteer Role = "volunteer"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionModerate Action = "moderate"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleVolunteer:
		return action == ActionRead || action == ActionWrite || action == ActionModerate
	case RoleMember:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleVolunteer, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
