package storage

import (
	"encoding/json"

	"github.com/google/uuid"
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// jsonArg converts a raw JSON value into a SQL argument: NULL when empty,
// text otherwise (both drivers accept JSON as text).
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// marshalJSON serializes v, returning nil for nil input so conditional
// columns stay NULL.
func marshalJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
