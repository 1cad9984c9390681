package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleCitizen Role = "citizen"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead        Action = "read"
	ActionParticipate Action = "participate"
	ActionAdmin       Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleCitizen:
		return action == ActionRead || action == ActionParticipate
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps a token role onto a known role. Tokens without a role
// belong to ordinary citizens.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCitizen, RoleAdmin:
		return Role(role)
	case "":
		return RoleCitizen
	default:
		return RoleViewer
	}
}
