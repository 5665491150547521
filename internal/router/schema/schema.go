// Package schema implements a minimal JSON Schema (draft-07) structural
// validator for tool input schemas (§4.3). It is grounded on the
// teacher's internal/domain/validation package: that package validates a
// fixed JSON-RPC/MCP shape by hand-walking a decoded message; this
// package generalizes the same hand-walked-structure technique to an
// arbitrary caller-supplied schema document, since the corpus carries no
// third-party JSON Schema validator dependency to reach for instead (see
// DESIGN.md).
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ViolationError reports every validation failure found in one pass, so
// the router can return a single "<path>: <message>; ..." InvalidParams
// message (§4.3).
type ViolationError struct {
	Violations []string
}

func (e *ViolationError) Error() string {
	return strings.Join(e.Violations, "; ")
}

// Validate checks instance against the draft-07 schema document, returning
// a *ViolationError listing every violation found, or nil if valid.
func Validate(schemaDoc map[string]any, instance any) error {
	var violations []string
	walk("$", schemaDoc, instance, &violations)
	if len(violations) == 0 {
		return nil
	}
	sort.Strings(violations)
	return &ViolationError{Violations: violations}
}

func fail(violations *[]string, path, format string, args ...any) {
	*violations = append(*violations, fmt.Sprintf("%s: %s", path, fmt.Sprintf(format, args...)))
}

// walk validates instance against one schema node, appending any
// violations found at or below path.
func walk(path string, node map[string]any, instance any, violations *[]string) {
	if node == nil {
		return
	}

	if typ, ok := node["type"]; ok {
		if !matchesType(typ, instance) {
			fail(violations, path, "expected type %v, got %s", typ, describeType(instance))
			return
		}
	}

	if enum, ok := node["enum"].([]any); ok {
		if !enumContains(enum, instance) {
			fail(violations, path, "value is not one of the allowed enum values")
		}
	}

	switch v := instance.(type) {
	case map[string]any:
		validateObject(path, node, v, violations)
	case []any:
		validateArray(path, node, v, violations)
	case string:
		validateString(path, node, v, violations)
	case float64:
		validateNumber(path, node, v, violations)
	}
}

func validateObject(path string, node map[string]any, obj map[string]any, violations *[]string) {
	if required, ok := node["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := obj[name]; !present {
				fail(violations, path, "missing required property %q", name)
			}
		}
	}

	props, _ := node["properties"].(map[string]any)
	for key, val := range obj {
		propSchema, ok := props[key].(map[string]any)
		if !ok {
			if addl, ok := node["additionalProperties"].(bool); ok && !addl {
				fail(violations, path, "additional property %q is not allowed", key)
			}
			continue
		}
		walk(path+"."+key, propSchema, val, violations)
	}
}

func validateArray(path string, node map[string]any, arr []any, violations *[]string) {
	if itemSchema, ok := node["items"].(map[string]any); ok {
		for i, item := range arr {
			walk(fmt.Sprintf("%s[%d]", path, i), itemSchema, item, violations)
		}
	}
	if minItems, ok := asFloat(node["minItems"]); ok && float64(len(arr)) < minItems {
		fail(violations, path, "expected at least %v items, got %d", minItems, len(arr))
	}
	if maxItems, ok := asFloat(node["maxItems"]); ok && float64(len(arr)) > maxItems {
		fail(violations, path, "expected at most %v items, got %d", maxItems, len(arr))
	}
}

func validateString(path string, node map[string]any, s string, violations *[]string) {
	if minLen, ok := asFloat(node["minLength"]); ok && float64(len(s)) < minLen {
		fail(violations, path, "string shorter than minLength %v", minLen)
	}
	if maxLen, ok := asFloat(node["maxLength"]); ok && float64(len(s)) > maxLen {
		fail(violations, path, "string longer than maxLength %v", maxLen)
	}
}

func validateNumber(path string, node map[string]any, n float64, violations *[]string) {
	if min, ok := asFloat(node["minimum"]); ok && n < min {
		fail(violations, path, "value %v below minimum %v", n, min)
	}
	if max, ok := asFloat(node["maximum"]); ok && n > max {
		fail(violations, path, "value %v above maximum %v", n, max)
	}
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func enumContains(enum []any, instance any) bool {
	for _, v := range enum {
		if fmt.Sprint(v) == fmt.Sprint(instance) {
			return true
		}
	}
	return false
}

func describeType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

func matchesType(declared any, instance any) bool {
	switch t := declared.(type) {
	case string:
		return matchesOneType(t, instance)
	case []any:
		for _, alt := range t {
			if name, ok := alt.(string); ok && matchesOneType(name, instance) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func matchesOneType(name string, instance any) bool {
	switch name {
	case "object":
		_, ok := instance.(map[string]any)
		return ok
	case "array":
		_, ok := instance.([]any)
		return ok
	case "string":
		_, ok := instance.(string)
		return ok
	case "number":
		_, ok := instance.(float64)
		return ok
	case "integer":
		f, ok := instance.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := instance.(bool)
		return ok
	case "null":
		return instance == nil
	default:
		return true
	}
}
