package api

import "github.com/google/uuid"

// NewID returns a random (version 4) UUID string for stored records.
func NewID() string {
	return uuid.NewString()
}

// ValidateID reports whether id is a canonical UUID string.
func ValidateID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
