package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

func parseOwnerID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("parse owner id %q: %w", s, err)
	}
	return id, nil
}
