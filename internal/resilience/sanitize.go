package resilience

import (
	"encoding/json"
	"strings"
)

// Redacted replaces sensitive values in audit payloads.
const Redacted = "[REDACTED]"

var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"apikey":        true,
	"secret":        true,
	"password":      true,
	"token":         true,
	"authorization": true,
	"name":          true,
	"company":       true,
	"phone":         true,
	"email":         true,
	"line1":         true,
	"line2":         true,
	"street":        true,
}

// Sanitize encodes v as JSON with every sensitive key, at any depth,
// replaced by Redacted. Keys match case-insensitively.
func Sanitize(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return raw
	}
	out, err := json.Marshal(redact(generic))
	if err != nil {
		return nil
	}
	return out
}

func redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if sensitiveKeys[strings.ToLower(k)] {
				t[k] = Redacted
				continue
			}
			t[k] = redact(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = redact(val)
		}
		return t
	}
	return v
}
