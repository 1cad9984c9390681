package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, the identifier format of laws, votes and suggestions.
func NewID() string {
	return uuid.NewString()
}

// NewPrefixedID returns a compact prefixed identifier for tokens and request ids.
func NewPrefixedID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
