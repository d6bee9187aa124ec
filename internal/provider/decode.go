package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider payloads disagree on types between endpoints and API versions
// (ids as numbers or strings, amounts as "12,50" or 12.5). These readers
// accept all shapes observed in the wild.

// DecodeObjects decodes a JSON array of objects, tolerating null.
func DecodeObjects(raw json.RawMessage) ([]map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out []map[string]any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode objects: %w", err)
	}
	return out, nil
}

// DecodeObject decodes a JSON object, tolerating null.
func DecodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var out map[string]any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return out, nil
}

// Nested returns the first nested object found under keys.
func Nested(data map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if nested, ok := data[key].(map[string]any); ok {
			return nested
		}
	}
	return nil
}

// FirstString returns the first non-empty value under keys rendered as a string.
func FirstString(data map[string]any, keys ...string) string {
	return firstString(data, keys...)
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := data[key]; ok {
			if str := toString(val); str != "" {
				return str
			}
		}
	}
	return ""
}

// FirstDecimal returns the first parseable amount under keys.
func FirstDecimal(data map[string]any, keys ...string) decimal.Decimal {
	for _, key := range keys {
		if val, ok := data[key]; ok {
			if d, ok := toDecimal(val); ok {
				return d
			}
		}
	}
	return decimal.Zero
}

// FirstInt returns the first integer under keys.
func FirstInt(data map[string]any, keys ...string) int {
	for _, key := range keys {
		if d, ok := toDecimal(data[key]); ok {
			return int(d.IntPart())
		}
	}
	return 0
}

// FirstTime parses the first timestamp under keys using the common provider layouts.
func FirstTime(data map[string]any, keys ...string) time.Time {
	for _, key := range keys {
		raw := toString(data[key])
		if raw == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	DateLayout,
	"02.01.2006 15:04",
	"02.01.2006",
}

// Objects returns the array of objects under key.
func Objects(data map[string]any, key string) []map[string]any {
	list, _ := data[key].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Raw re-encodes a decoded document for storage.
func Raw(data map[string]any) json.RawMessage {
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return b
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

func toDecimal(val any) (decimal.Decimal, bool) {
	switch v := val.(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return decimal.Zero, false
		}
		if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}
