package poller

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DecodeList decodes a snapshot response into a list of JSON objects.
//
// Both shapes served by the backend are accepted:
//
//	[{"device_id": "..."}, ...]
//	{"devices": [{"device_id": "..."}, ...]}
//
// For the wrapped shape the array is read from key; a null or missing array
// yields an empty list. Numbers are preserved as [json.Number] so ids such as
// 42 are not turned into 42.0.
func DecodeList(body []byte, key string) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var elems []any
	switch v := raw.(type) {
	case []any:
		elems = v
	case map[string]any:
		inner, ok := v[key]
		if !ok || inner == nil {
			return []map[string]any{}, nil
		}
		arr, ok := inner.([]any)
		if !ok {
			return nil, fmt.Errorf("field %q is not a list", key)
		}
		elems = arr
	case nil:
		return []map[string]any{}, nil
	default:
		return nil, errors.New("response is neither a list nor an object")
	}

	out := make([]map[string]any, 0, len(elems))
	for i, e := range elems {
		obj, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
		out = append(out, obj)
	}
	return out, nil
}

// IDString normalizes a decoded JSON id to a string.
//
// Strings are trimmed; numbers are rendered without exponent or trailing
// zeros. Any other type yields "".
func IDString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}

// Items converts decoded objects into [Item] values keyed by idField.
//
// Objects whose id is missing or empty keep an empty ID; the scheduler drops
// them rather than inventing one.
func Items(objs []map[string]any, idField string) []Item {
	items := make([]Item, len(objs))
	for i, obj := range objs {
		items[i] = Item{ID: IDString(obj[idField]), Payload: obj}
	}
	return items
}
