// Package jsonx decodes loosely typed bus payloads into concrete structs.
package jsonx

import "encoding/json"

// DecodeJSON fills dst from raw bytes, a JSON string, or an already decoded
// value (map[string]any etc). Fields absent from src keep their value in dst,
// so callers can pre-load defaults.
func DecodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case json.RawMessage:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	case T:
		*dst = v
		return nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
