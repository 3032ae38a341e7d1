package redis

import (
	"encoding/json"
	"fmt"

	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

func marshalSession(s *tutoring.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return data, nil
}

func unmarshalSession(data []byte) (*tutoring.Session, error) {
	var s tutoring.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return &s, nil
}
