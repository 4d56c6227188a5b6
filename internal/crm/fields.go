package crm

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// DisplaySuffix is appended by the CRM to a lookup or option-set key to carry
// its human-readable value.
const DisplaySuffix = "@OData.Community.Display.V1.FormattedValue"

// FieldSource locates logical fields inside one upstream record.
type FieldSource interface {
	// Exact returns the first non-empty value stored under one of keys,
	// compared byte for byte.
	Exact(keys ...string) (string, bool)
	// Field runs the three resolution passes (exact, suffix, substring)
	// over patterns and returns the first non-empty value.
	Field(patterns ...string) (string, bool)
}

// Payload is one upstream record as delivered by the CRM webhook.
type Payload map[string]any

var _ FieldSource = Payload(nil)

// DecodePayloads decodes the `data` member of a webhook body. A single object
// becomes a one-element batch; null or a missing member yields no records.
func DecodePayloads(raw json.RawMessage) ([]Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if raw[0] == '[' {
		var records []Payload
		if err := dec.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var record Payload
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	return []Payload{record}, nil
}

func (p Payload) Exact(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := stringify(p[key]); ok {
			return value, true
		}
	}
	return "", false
}

func (p Payload) Field(patterns ...string) (string, bool) {
	if value, ok := p.Exact(patterns...); ok {
		return value, true
	}
	keys := p.Keys()
	folded := make([]string, len(keys))
	for i, key := range keys {
		folded[i] = foldCase(key)
	}
	for _, match := range []func(key, pattern string) bool{strings.HasSuffix, strings.Contains} {
		for _, pattern := range patterns {
			want := foldCase(pattern)
			for i, key := range folded {
				if !match(key, want) {
					continue
				}
				if value, ok := stringify(p[keys[i]]); ok {
					return value, true
				}
			}
		}
	}
	return "", false
}

// Keys returns the payload keys in sorted order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func foldCase(s string) string {
	return cases.Fold().String(s)
}

func stringify(v any) (string, bool) {
	switch typed := v.(type) {
	case nil:
		return "", false
	case string:
		return typed, typed != ""
	case json.Number:
		return typed.String(), typed != ""
	case bool:
		return strconv.FormatBool(typed), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	default:
		data, err := json.Marshal(typed)
		if err != nil || len(data) == 0 {
			return "", false
		}
		return string(data), true
	}
}

// Lookup is one named way of reading a value from a FieldSource. Mappers
// chain lookups explicitly; the first one that yields a value wins.
type Lookup struct {
	Name    string
	Resolve func(src FieldSource) (string, bool)
}

// Field resolves patterns with the three-pass resolver.
func Field(patterns ...string) Lookup {
	return Lookup{
		Name: "field(" + strings.Join(patterns, ",") + ")",
		Resolve: func(src FieldSource) (string, bool) {
			return src.Field(patterns...)
		},
	}
}

// Exact resolves keys without any case folding or partial matching.
func Exact(keys ...string) Lookup {
	return Lookup{
		Name: "exact(" + strings.Join(keys, ",") + ")",
		Resolve: func(src FieldSource) (string, bool) {
			return src.Exact(keys...)
		},
	}
}

// Display prefers the formatted companion keys of base, then the raw key,
// then the raw lookup key `_base_value`.
func Display(base string) Lookup {
	keys := displayKeys(base)
	keys = append(keys, base, "_"+base+"_value")
	return Lookup{
		Name: "display(" + base + ")",
		Resolve: func(src FieldSource) (string, bool) {
			return src.Exact(keys...)
		},
	}
}

// DisplayField checks the formatted companion keys of base and falls back to
// the full three-pass resolver on base.
func DisplayField(base string) Lookup {
	keys := displayKeys(base)
	return Lookup{
		Name: "display_field(" + base + ")",
		Resolve: func(src FieldSource) (string, bool) {
			if value, ok := src.Exact(keys...); ok {
				return value, true
			}
			return src.Field(base)
		},
	}
}

// Date wraps another lookup with NormalizeDate.
func Date(inner Lookup) Lookup {
	return Lookup{
		Name: "date(" + inner.Name + ")",
		Resolve: func(src FieldSource) (string, bool) {
			value, ok := inner.Resolve(src)
			if !ok {
				return "", false
			}
			return NormalizeDate(value), true
		},
	}
}

func displayKeys(base string) []string {
	return []string{base + DisplaySuffix, "_" + base + "_value" + DisplaySuffix}
}

// Resolve evaluates lookups in order and returns the first value found
// together with the name of the lookup that produced it.
func Resolve(src FieldSource, lookups ...Lookup) (value, matched string, ok bool) {
	for _, lookup := range lookups {
		if v, found := lookup.Resolve(src); found {
			return v, lookup.Name, true
		}
	}
	return "", "", false
}

// Text is Resolve reduced to a nullable column value.
func Text(src FieldSource, lookups ...Lookup) *string {
	value, _, ok := Resolve(src, lookups...)
	if !ok {
		return nil
	}
	return &value
}

// Number resolves lookups and parses the result as a float. Unparseable
// values yield nil.
func Number(src FieldSource, lookups ...Lookup) *float64 {
	value, _, ok := Resolve(src, lookups...)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return nil
	}
	return &parsed
}
