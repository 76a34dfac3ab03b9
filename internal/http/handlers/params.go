package handlers

import (
	"strings"

	"github.com/google/uuid"
)

// parseOptionalUUID returns uuid.Nil for blank input.
func parseOptionalUUID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}
