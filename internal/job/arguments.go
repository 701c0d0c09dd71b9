package job

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Arguments is the JSON-like argument map handed to a processor.
// Numbers decoded from JSON are kept as json.Number.
type Arguments map[string]any

// DecodeArguments parses a JSON object, keeping numbers as json.Number.
// An empty input or a JSON null decodes to nil.
func DecodeArguments(data []byte) (Arguments, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var args Arguments
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}

// Value stores arguments as a JSON document, or NULL when empty.
func (a Arguments) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(a))
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	return b, nil
}

// Scan reads a JSON document column.
func (a *Arguments) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		args, err := DecodeArguments(v)
		if err != nil {
			return err
		}
		*a = args
		return nil
	case string:
		args, err := DecodeArguments([]byte(v))
		if err != nil {
			return err
		}
		*a = args
		return nil
	default:
		return fmt.Errorf("unsupported arguments column type %T", src)
	}
}

// StringValue returns the argument, or "" when absent or not a string.
func (a Arguments) StringValue(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// StringList returns a list argument. A single string is returned as a one-element list.
func (a Arguments) StringList(key string) []string {
	switch v := a[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// StringMap returns a map argument with values rendered as strings.
func (a Arguments) StringMap(key string) map[string]string {
	m, ok := a[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
