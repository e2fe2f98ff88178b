package permission

import "strings"

// AuthMode selects which credential an operation accepts.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthUser
	AuthService
)

func (m AuthMode) String() string {
	switch m {
	case AuthUser:
		return "user"
	case AuthService:
		return "service"
	default:
		return "none"
	}
}

// Operation is the static descriptor of an exposed endpoint. The router
// registers handlers from these descriptors and the reconciler reads the same
// list to keep the permission catalog current.
type Operation struct {
	Name         string
	Module       string
	Method       string
	Path         string
	Auth         AuthMode
	Requirements []Requirement
}

func (o Operation) Protected() bool {
	return len(o.Requirements) > 0
}

func (o Operation) Codes() []string {
	return Codes(o.Requirements)
}

func (o Operation) Route() string {
	return strings.ToUpper(o.Method) + " " + o.Path
}
