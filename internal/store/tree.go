package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emrgen/salesdb/internal/apperr"
)

// splitPath validates and splits a store path.
func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, apperr.New(apperr.ValidationFailed, "store", "empty path")
	}

	segments := strings.Split(path, "/")
	for _, s := range segments {
		if s == "" || strings.ContainsAny(s, ".#$[]") {
			return nil, apperr.New(apperr.ValidationFailed, "store", "invalid path %q", path)
		}
	}

	return segments, nil
}

// normalize converts any Go value into the canonical JSON tree form, which
// also gives the store its own copy of the value.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON encodable: %w", err)
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return prune(out), nil
}

// prune drops nil entries from objects so that a stored nil means absent.
func prune(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			if child == nil {
				delete(x, k)
				continue
			}
			x[k] = prune(child)
		}
	case []any:
		for i, child := range x {
			x[i] = prune(child)
		}
	}

	return v
}

// deepCopy copies a normalized tree.
func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, child := range x {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, child := range x {
			out[i] = deepCopy(child)
		}
		return out
	}

	return v
}

// getIn walks node along segments.
func getIn(node any, segments []string) (any, bool) {
	for _, s := range segments {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[s]
		if !ok {
			return nil, false
		}
	}

	return node, node != nil
}

// setIn returns node with the value at segments replaced. A nil value removes
// the entry and prunes parents that become empty.
func setIn(node any, segments []string, value any) any {
	if len(segments) == 0 {
		return value
	}

	m, ok := node.(map[string]any)
	if !ok {
		if value == nil {
			return node
		}
		m = make(map[string]any)
	}

	child := setIn(m[segments[0]], segments[1:], value)
	if child == nil {
		delete(m, segments[0])
	} else if cm, ok := child.(map[string]any); ok && len(cm) == 0 {
		delete(m, segments[0])
	} else {
		m[segments[0]] = child
	}

	if len(m) == 0 {
		return nil
	}

	return m
}

// related reports whether a change at changed affects a subscription at path.
func related(path, changed string) bool {
	return path == changed ||
		strings.HasPrefix(changed, path+"/") ||
		strings.HasPrefix(path, changed+"/")
}
