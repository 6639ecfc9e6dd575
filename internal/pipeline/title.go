package pipeline

import (
	"fmt"
	"strings"

	"github.com/mindtune/api/internal/model"
)

// deriveTitle names a track for display. An explicit title wins.
func deriveTitle(title, ownerName, ownerID string, initiator model.InitiatorType, sessionID int64) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}

	name := strings.TrimSpace(ownerName)
	if name == "" {
		name = "user " + ownerID
	}

	label := "self-guided session"
	if initiator == model.InitiatorCounselor {
		label = "counselor prescription"
	}

	return fmt.Sprintf("%s · %s #%d", name, label, sessionID)
}

// initiatorFor fills in the initiator type when the request leaves it blank
func initiatorFor(req *model.GenerationRequest) model.InitiatorType {
	if req.InitiatorType != "" {
		return req.InitiatorType
	}
	if req.Caller.Role == model.RoleCounselor || req.Caller.UserID != req.OwnerID {
		return model.InitiatorCounselor
	}
	return model.InitiatorPatient
}
