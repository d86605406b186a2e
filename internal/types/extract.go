package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// LOOSE PAYLOAD EXTRACTION
// =============================================================================
//
// Reasoning providers return JSON whose scalar types drift: ids arrive as
// numbers or strings, single-item lists arrive as bare strings, findings
// arrive as strings or objects. These helpers decode that drift without
// failing the whole payload.

// ExtractString renders a decoded JSON value as text.
func ExtractString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ExtractInt64 reads an integer from a decoded JSON number or numeric string.
func ExtractInt64(arg interface{}) (int64, bool) {
	switch v := arg.(type) {
	case float64:
		return int64(v), v == float64(int64(v))
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(v), "#")
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// ExtractList returns the length of a decoded JSON array, or -1.
func ExtractList(arg interface{}) int {
	if list, ok := arg.([]interface{}); ok {
		return len(list)
	}
	return -1
}

// FlexString accepts a JSON string, number, bool or null.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		// Keep nested structures readable rather than failing the payload.
		*f = FlexString(data)
	default:
		*f = FlexString(ExtractString(v))
	}
	return nil
}

func (f FlexString) String() string { return string(f) }

// FlexStrings accepts a JSON array of scalars or a single scalar.
type FlexStrings []string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []FlexString
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s := strings.TrimSpace(string(it)); s != "" {
				out = append(out, s)
			}
		}
		*f = out
		return nil
	}
	var single FlexString
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if s := strings.TrimSpace(string(single)); s != "" {
		*f = FlexStrings{s}
	} else {
		*f = FlexStrings{}
	}
	return nil
}

// DecodeObjectOrText decodes a list item that may be an object or a bare
// scalar. An object is decoded into v, keeping whatever fields match even
// when one has the wrong shape. Anything else is read as text and handed
// to text when it is not blank.
func DecodeObjectOrText(data []byte, v interface{}, text func(string)) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		err := json.Unmarshal(data, v)
		var typeErr *json.UnmarshalTypeError
		if err != nil && !errors.As(err, &typeErr) {
			return err
		}
		return nil
	}
	var s FlexString
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if t := strings.TrimSpace(string(s)); t != "" {
		text(t)
	}
	return nil
}
