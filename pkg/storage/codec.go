package storage

import "encoding/json"

// Records are stored as JSON, matching what the API serves.
func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unpacks a raw value handed to a Scan callback.
func Decode(b []byte, v any) error {
	return json.Unmarshal(b, v)
}
