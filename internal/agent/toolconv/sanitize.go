// Package toolconv converts the common tool descriptor schema into each
// backend's native function-calling format.
package toolconv

import (
	"fmt"
)

// schemaKeys are the JSON Schema keywords every backend accepts. Anything
// else (vendor extensions, $schema, additionalProperties and friends) is
// stripped before conversion.
var schemaKeys = map[string]bool{
	"type":        true,
	"description": true,
	"enum":        true,
	"properties":  true,
	"required":    true,
	"items":       true,
}

// SanitizeSchema normalizes a tool parameter schema for backends with a
// restricted schema dialect. Enum values are coerced to strings, unsupported
// keywords are stripped, and a non-object root is wrapped in an object with
// a single required "value" property. Sanitizing an already-sanitized schema
// is a no-op, and required-parameter lists are always preserved.
func SanitizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	out := sanitizeNode(schema)

	if t, _ := out["type"].(string); t != "object" {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{"value": out},
			"required":   []any{"value"},
		}
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

func sanitizeNode(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for key, value := range node {
		if !schemaKeys[key] {
			continue
		}
		switch key {
		case "enum":
			out[key] = coerceEnum(value)
		case "properties":
			props, ok := value.(map[string]any)
			if !ok {
				continue
			}
			sanitized := make(map[string]any, len(props))
			for name, prop := range props {
				if propMap, ok := prop.(map[string]any); ok {
					sanitized[name] = sanitizeNode(propMap)
				}
			}
			out[key] = sanitized
		case "items":
			if itemMap, ok := value.(map[string]any); ok {
				out[key] = sanitizeNode(itemMap)
			}
		default:
			out[key] = value
		}
	}

	// An enum constraint implies a string parameter once values are
	// coerced.
	if _, ok := out["enum"]; ok {
		out["type"] = "string"
	}
	return out
}

func coerceEnum(value any) []any {
	values, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]any, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(v))
	}
	return out
}
