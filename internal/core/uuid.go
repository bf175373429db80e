package core

import (
	"github.com/google/uuid"
)

// NewUUIDv7 returns a new time-ordered UUID string.
func NewUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewJobID returns a new job identifier.
func NewJobID() string {
	return NewUUIDv7()
}

// IsValidUUID reports whether s parses as any UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// IsValidUUIDv7 reports whether s is an RFC 9562 version 7 UUID.
func IsValidUUIDv7(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 7 && id.Variant() == uuid.RFC4122
}
