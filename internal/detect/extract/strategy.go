package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"affwatch/internal/core/domain"
)

// A FieldStrategy attempts to pull one field value out of a candidate item.
// Strategies compose with firstOf so structured data is probed before regex
// fallbacks over free text.
type FieldStrategy func(item domain.CandidateItem) (string, bool)

// firstOf returns the first strategy result that succeeds.
func firstOf(strategies ...FieldStrategy) FieldStrategy {
	return func(item domain.CandidateItem) (string, bool) {
		for _, s := range strategies {
			if v, ok := s(item); ok {
				return v, true
			}
		}
		return "", false
	}
}

// fieldKeys probes structured fields in order and returns the first value
// that coerces to a non-empty string.
func fieldKeys(keys ...string) FieldStrategy {
	return func(item domain.CandidateItem) (string, bool) {
		for _, key := range keys {
			if v, ok := coerce(item.Fields[key]); ok {
				return v, true
			}
		}
		return "", false
	}
}

// attrShaped returns the first attribute value containing the shape.
// Explorer pages truncate visible text but keep full values in title and
// href attributes, so a shaped attribute always beats the item's Text.
func attrShaped(shape *regexp.Regexp) FieldStrategy {
	return func(item domain.CandidateItem) (string, bool) {
		for _, v := range attrValues(item) {
			if m := shape.FindString(v); m != "" {
				return m, true
			}
		}
		return "", false
	}
}

// textShaped scans the item's free text for the first shape match.
func textShaped(shape *regexp.Regexp) FieldStrategy {
	return func(item domain.CandidateItem) (string, bool) {
		if m := shape.FindString(item.Text); m != "" {
			return m, true
		}
		return "", false
	}
}

// attrValues flattens the attribute-carrying fields into one probe list,
// title values first.
func attrValues(item domain.CandidateItem) []string {
	var out []string
	out = appendCoerced(out, item.Fields["title"])
	out = appendCoerced(out, item.Fields["attrs"])
	return out
}

func appendCoerced(dst []string, v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			dst = append(dst, s)
		}
	case []string:
		for _, e := range t {
			dst = appendCoerced(dst, e)
		}
	case []any:
		for _, e := range t {
			dst = appendCoerced(dst, e)
		}
	}
	return dst
}

// coerce converts the loosely typed values sources emit (JSON strings and
// numbers) into a single string.
func coerce(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	}
	return "", false
}
