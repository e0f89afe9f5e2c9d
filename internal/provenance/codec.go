package provenance

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// TimestampSentinel marks a property whose value must be assigned by the
// store's own clock. It is emitted as a server-side timestamp() call, never
// as a quoted string.
const TimestampSentinel = "TIMESTAMP()"

var propertyKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EncodeProps prepares a property map for parameter-bound node writes.
// Integers, booleans, floats and strings pass through as bound parameters;
// list and map values are serialized to their JSON text (readers parse the
// text back via DecodeComposite); properties holding TimestampSentinel are
// pulled out and returned separately so the caller can render them as
// timestamp() assignments.
func EncodeProps(data map[string]any) (map[string]any, []string, error) {
	props := make(map[string]any, len(data))
	var tsKeys []string

	for key, value := range data {
		if !propertyKeyPattern.MatchString(key) {
			return nil, nil, fmt.Errorf("invalid property key %q", key)
		}
		switch v := value.(type) {
		case nil:
			continue
		case string:
			if v == TimestampSentinel {
				tsKeys = append(tsKeys, key)
				continue
			}
			props[key] = v
		case bool, int, int32, int64, float32, float64:
			props[key] = v
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, nil, fmt.Errorf("encode property %q: %w", key, err)
			}
			props[key] = string(raw)
		}
	}

	sort.Strings(tsKeys)
	return props, tsKeys, nil
}

// TimestampAssignments renders the SET fragment for server-clock properties,
// e.g. "a.created_timestamp = timestamp()". Keys have already been validated
// by EncodeProps; alias is code-authored.
func TimestampAssignments(alias string, keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s.%s = timestamp()", alias, k))
	}
	return strings.Join(parts, ", ")
}

// DecodeComposite parses a property value that EncodeProps serialized from a
// list or map. ok is false when the text is not a JSON composite, which means
// the property was a plain scalar all along.
func DecodeComposite(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var out any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, false
	}
	return out, true
}

// NodeToMap flattens a graph node into its property map. Plain maps pass
// through untouched so fakes can stand in for driver nodes.
func NodeToMap(v any) map[string]any {
	switch n := v.(type) {
	case neo4j.Node:
		return n.Props
	case *neo4j.Node:
		if n == nil {
			return nil
		}
		return n.Props
	case map[string]any:
		return n
	default:
		return nil
	}
}

// NodesToMaps flattens a collected node list, preserving store order.
func NodesToMaps(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m := NodeToMap(item); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// StringList coerces a collected list of property values to strings,
// dropping anything that is not one.
func StringList(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// AsInt64 reads a count value from a record field.
func AsInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// AsString reads a string value from a record field.
func AsString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
