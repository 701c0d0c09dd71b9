// Package arghash computes the deduplication digest of job arguments.
//
// Arguments are rendered into a canonical text form (sorted keys, null values
// dropped at every depth) and hashed with SHA3-256. Two argument maps that only
// differ in key order or in keys carrying null values produce the same digest.
package arghash

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Sum returns the lowercase hex SHA3-256 digest of the canonical form of args.
// Absent or empty arguments hash to the empty string.
func Sum(args map[string]any) string {
	stripped := stripNulls(args)
	if len(stripped) == 0 {
		return ""
	}

	digest := sha3.Sum256([]byte(render(stripped)))
	return hex.EncodeToString(digest[:])
}

// Canonical returns the text that Sum hashes, or "" for empty arguments.
func Canonical(args map[string]any) string {
	stripped := stripNulls(args)
	if len(stripped) == 0 {
		return ""
	}
	return render(stripped)
}

func stripNulls(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = stripValue(v)
	}
	return out
}

func stripValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return stripNulls(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = stripValue(item)
		}
		return items
	default:
		return v
	}
}

// render writes maps as {k1=v1, k2=v2} and lists as [a, b]. String values
// are quoted so "32" and 32 render differently; keys are quoted only when
// they contain a delimiter.
func render(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(renderKey(k))
			b.WriteByte('=')
			b.WriteString(render(t[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = render(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = strconv.Quote(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func renderKey(k string) string {
	if k == "" || strings.ContainsAny(k, "\"=,{}[] ") {
		return strconv.Quote(k)
	}
	return k
}
