package rbac

type Role string
type Action string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionInvite Action = "invite"
	ActionRemove Action = "remove"
	ActionDelete Action = "delete"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

// Normalize maps unknown role strings to editor. Invites only ever grant
// editor; the owner role exists solely on the membership created alongside
// the document itself.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleEditor:
		return Role(role)
	default:
		return RoleEditor
	}
}
