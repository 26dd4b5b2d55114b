package indication

import (
	"encoding/json"

	"picklight-go/errcode"
)

// decodeData decodes a command's data object into T after checking that
// every required key is present.
func decodeData[T any](op string, raw json.RawMessage, required ...string) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, errcode.New(errcode.InvalidPayload, op, "missing data")
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return out, errcode.New(errcode.InvalidPayload, op, "data is not an object")
	}
	for _, k := range required {
		if _, ok := keys[k]; !ok {
			return out, errcode.New(errcode.InvalidPayload, op, "missing field "+k)
		}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &errcode.E{C: errcode.InvalidPayload, Op: op, Msg: err.Error(), Err: err}
	}
	return out, nil
}
