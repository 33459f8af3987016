package cache

import (
	"sort"
	"strconv"
	"strings"
)

// BuildKey produces a deterministic cache key from a route name and its
// normalized parameters. Semantically identical requests must collide on
// one entry regardless of parameter order, casing or surrounding spaces.
func BuildKey(route string, params map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(strings.TrimSpace(route)))

	if len(params) == 0 {
		return sb.String()
	}

	folded := make(map[string]interface{}, len(params))
	names := make([]string, 0, len(params))
	for name, value := range params {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, exists := folded[name]; !exists {
			names = append(names, name)
		}
		folded[name] = value
	}
	sort.Strings(names)

	sb.WriteByte('?')
	first := true
	for _, name := range names {
		value := canonicalValue(folded[name])
		if value == "" {
			continue
		}

		if !first {
			sb.WriteByte('&')
		}
		first = false

		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(value)
	}

	return sb.String()
}

// CanonicalParam normalizes one parameter value the same way BuildKey
// does, so intent building and key building agree on the folded form.
func CanonicalParam(value interface{}) string {
	return canonicalValue(value)
}

func canonicalValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return foldScalar(v)
	case []string:
		return foldSlice(v)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, canonicalValue(item))
		}
		return joinSorted(parts)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return ""
	}
}

func foldScalar(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func foldSlice(values []string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, foldScalar(v))
	}
	return joinSorted(parts)
}

func joinSorted(parts []string) string {
	sort.Strings(parts)

	deduped := parts[:0]
	var prev string
	for i, p := range parts {
		if p == "" || (i > 0 && p == prev) {
			continue
		}
		deduped = append(deduped, p)
		prev = p
	}

	return strings.Join(deduped, ",")
}
