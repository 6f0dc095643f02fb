package common

import (
	"github.com/google/uuid"
)

// NewNotificationID generates a unique notification ID with the "ntf_" prefix
// Format: ntf_<uuid>
func NewNotificationID() string {
	return "ntf_" + uuid.New().String()
}

// NewOutcomeID generates a unique archived outcome ID with the "out_" prefix
// Format: out_<uuid>
func NewOutcomeID() string {
	return "out_" + uuid.New().String()
}

// NewInstanceID generates an ID identifying one server process
func NewInstanceID() string {
	return uuid.New().String()
}
