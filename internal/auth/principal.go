package auth

import (
	"strings"

	"github.com/mindtune/api/internal/model"
)

// Principal is the identity extracted from a verified token
type Principal struct {
	UserID string
	Email  string
	Name   string
	Role   model.Role
}

// ParseRole maps a role claim or header onto a caller role. Anything that is
// not a counselor acts as a patient.
func ParseRole(raw string) model.Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "counselor", "therapist":
		return model.RoleCounselor
	default:
		return model.RolePatient
	}
}

func roleFromList(roles []string) model.Role {
	for _, r := range roles {
		if ParseRole(r) == model.RoleCounselor {
			return model.RoleCounselor
		}
	}
	return model.RolePatient
}
