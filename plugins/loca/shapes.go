package loca

import "fmt"

// The vendor API has returned the same semantic payload in several
// shapes over the product's history. Each endpoint resolves its payload
// through an ordered matcher chain; the first matching shape wins, and a
// dict matching none of them falls through to error extraction.

type shape struct {
	name    string
	extract func(data any) ([]map[string]any, bool)
}

// ShapeError reports a 200 response in an unrecognized shape. It is
// internal to the fetch layer: callers see an empty result, the error
// only feeds logging.
type ShapeError struct {
	Endpoint string
	Message  string
}

func (e *ShapeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loca %s: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("loca %s: unrecognized response shape", e.Endpoint)
}

// directArray matches a bare JSON array of records.
func directArray() shape {
	return shape{name: "direct array", extract: func(data any) ([]map[string]any, bool) {
		list, ok := data.([]any)
		if !ok {
			return nil, false
		}
		return toRecords(list), true
	}}
}

// namedKey matches a dict holding the record array under key.
func namedKey(key string) shape {
	return shape{name: key + " key", extract: func(data any) ([]map[string]any, bool) {
		dict, ok := data.(map[string]any)
		if !ok {
			return nil, false
		}
		list, ok := dict[key].([]any)
		if !ok {
			return nil, false
		}
		return toRecords(list), true
	}}
}

// nestedKey matches a dict holding the record array under outer.inner.
func nestedKey(outer, inner string) shape {
	return shape{name: outer + "." + inner, extract: func(data any) ([]map[string]any, bool) {
		dict, ok := data.(map[string]any)
		if !ok {
			return nil, false
		}
		nested, ok := dict[outer].(map[string]any)
		if !ok {
			return nil, false
		}
		list, ok := nested[inner].([]any)
		if !ok {
			return nil, false
		}
		return toRecords(list), true
	}}
}

// wrappedOK matches a generic {"status": "ok", <key>: [...]} envelope.
func wrappedOK(key string) shape {
	return shape{name: "wrapped " + key, extract: func(data any) ([]map[string]any, bool) {
		dict, ok := data.(map[string]any)
		if !ok || asString(dict["status"]) != "ok" {
			return nil, false
		}
		list, ok := dict[key].([]any)
		if !ok {
			return nil, false
		}
		return toRecords(list), true
	}}
}

// resolveList runs the matcher chain and falls back to error extraction.
func resolveList(endpoint string, data any, shapes []shape) ([]map[string]any, error) {
	for _, s := range shapes {
		if records, ok := s.extract(data); ok {
			return records, nil
		}
	}
	return nil, &ShapeError{Endpoint: endpoint, Message: extractErrorMessage(data)}
}

// extractErrorMessage probes the documented error fields in priority
// order and returns the first non-empty value.
func extractErrorMessage(data any) string {
	dict, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	for _, field := range []string{"message", "error", "description", "detail", "reason"} {
		if value := asString(dict[field]); value != "" {
			return value
		}
	}
	return ""
}

func toRecords(list []any) []map[string]any {
	records := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if record, ok := item.(map[string]any); ok {
			records = append(records, record)
		}
	}
	return records
}

var (
	assetShapes = []shape{
		directArray(),
		namedKey("assets"),
	}
	statusShapes = []shape{
		directArray(),
		namedKey("StatusList"),
		wrappedOK("devices"),
		namedKey("devices"),
	}
	locationShapes = []shape{
		directArray(),
		nestedKey("response", "UserLocationList"),
		wrappedOK("locations"),
		namedKey("locations"),
	}
	groupShapes = []shape{
		namedKey("groups"),
		directArray(),
	}
)
