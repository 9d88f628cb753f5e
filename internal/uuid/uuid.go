// Package uuid generates and validates offline action identifiers.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// Generator produces unique action ids.
type Generator func() string

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// Default is the Generator backed by New.
var Default Generator = New

// Validate returns an error if the string is not a valid UUID v4.
// Ids loaded from durable storage are checked with it before they are
// admitted into the in-memory queue.
func Validate(s string) error {
	if !uuidV4Regex.MatchString(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 {
		return fmt.Errorf("expected UUID v4, got v%d", id.Version())
	}
	return nil
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return Validate(s) == nil
}
