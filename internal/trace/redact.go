package trace

import (
	"encoding/json"
	"fmt"
	"strings"
)

// secretKeySubstrings flags map keys whose values must never land in a trace
// file. Matching is case-insensitive substring, so "api_key", "GITHUB_TOKEN"
// and "clientSecret" are all caught.
var secretKeySubstrings = []string{
	"api_key",
	"apikey",
	"token",
	"secret",
	"password",
	"passwd",
	"access_key",
	"private_key",
	"credential",
	"authorization",
}

const redactedPlaceholder = "<REDACTED>"

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range secretKeySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// redactValue replaces binary blobs with a size placeholder and recurses into
// maps and slices redacting secret-keyed values. Non-secret scalars pass
// through unchanged.
func redactValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return fmt.Sprintf("<binary data: %d bytes>", len(v))
	case map[string]any:
		return redactMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}

func redactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSecretKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

// marshalTrace serializes a document. Values the store can legally hold are
// all JSON-encodable after redaction ([]byte was replaced with a placeholder
// string), so a marshal failure here indicates an engine bug.
func marshalTrace(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
