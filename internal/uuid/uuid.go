// Package uuid provides identifier generation and validation for stored records.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Canonical textual form: xxxxxxxx-xxxx-Vxxx-yxxx-xxxxxxxxxxxx, V in {4, 7},
// y one of [8, 9, a, b] (RFC 4122 variant).
var idRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[47][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a random UUID v4.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a UUID v7, whose lexical order follows creation time.
// Sessions and queue items use it so ties on timestamps still sort stably.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return id.String()
}

// IsValid reports whether s is a canonical v4 or v7 UUID.
func IsValid(s string) bool {
	return idRegex.MatchString(s)
}

// Validate returns an error if s is not a canonical v4 or v7 UUID.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid id format: %q", s)
	}
	return nil
}
