package articulation

import (
	"encoding/json"
	"strings"

	"evidencelab/internal/types"
)

// decodeItems decodes a list whose items may be objects or bare strings.
// A bare string is handed to primary to fill the item's main field.
func decodeItems[T any](raw []json.RawMessage, primary func(*T, string)) []T {
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var item T
		trimmed := strings.TrimSpace(string(r))
		if strings.HasPrefix(trimmed, "{") {
			if err := json.Unmarshal(r, &item); err != nil {
				continue
			}
			out = append(out, item)
			continue
		}
		var s types.FlexString
		if err := json.Unmarshal(r, &s); err != nil || strings.TrimSpace(string(s)) == "" {
			continue
		}
		primary(&item, strings.TrimSpace(string(s)))
		out = append(out, item)
	}
	return out
}

func nonNil(s types.FlexStrings) []string {
	if s == nil {
		return []string{}
	}
	return s
}
