package model

// Role tags the capability a caller presents to a fund operation.
type Role uint8

const (
	RolePublic Role = iota
	RoleAgent
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleAgent:
		return "agent"
	case RoleOwner:
		return "owner"
	default:
		return "public"
	}
}
