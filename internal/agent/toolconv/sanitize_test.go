package toolconv

import (
	"reflect"
	"testing"
)

func TestSanitizeSchemaStripsVendorKeywords(t *testing.T) {
	schema := map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "search terms",
				"x-vendor":    "internal",
			},
		},
		"required": []any{"query"},
	}

	got := SanitizeSchema(schema)

	if _, ok := got["$schema"]; ok {
		t.Error("$schema should be stripped")
	}
	if _, ok := got["additionalProperties"]; ok {
		t.Error("additionalProperties should be stripped")
	}
	props := got["properties"].(map[string]any)
	query := props["query"].(map[string]any)
	if _, ok := query["x-vendor"]; ok {
		t.Error("vendor extension should be stripped from nested properties")
	}
	if query["description"] != "search terms" {
		t.Error("description should survive")
	}
	if !reflect.DeepEqual(got["required"], []any{"query"}) {
		t.Errorf("required = %v, want [query]", got["required"])
	}
}

func TestSanitizeSchemaCoercesEnums(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"days": map[string]any{
				"type": "integer",
				"enum": []any{float64(7), float64(30), "90"},
			},
		},
	}

	got := SanitizeSchema(schema)
	days := got["properties"].(map[string]any)["days"].(map[string]any)

	if days["type"] != "string" {
		t.Errorf("enum parameter type = %v, want string after coercion", days["type"])
	}
	if !reflect.DeepEqual(days["enum"], []any{"7", "30", "90"}) {
		t.Errorf("enum = %v, want string values", days["enum"])
	}
}

func TestSanitizeSchemaWrapsNonObjectRoot(t *testing.T) {
	schema := map[string]any{"type": "string", "description": "a symbol"}

	got := SanitizeSchema(schema)

	if got["type"] != "object" {
		t.Fatalf("root type = %v, want object", got["type"])
	}
	value := got["properties"].(map[string]any)["value"].(map[string]any)
	if value["type"] != "string" {
		t.Errorf("wrapped value type = %v, want string", value["type"])
	}
	if !reflect.DeepEqual(got["required"], []any{"value"}) {
		t.Errorf("required = %v, want [value]", got["required"])
	}
}

func TestSanitizeSchemaIdempotent(t *testing.T) {
	schemas := []map[string]any{
		{
			"type": "object",
			"properties": map[string]any{
				"mode": map[string]any{"enum": []any{float64(1), "auto"}},
				"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"mode"},
		},
		{"type": "number"},
		nil,
	}

	for i, schema := range schemas {
		once := SanitizeSchema(schema)
		twice := SanitizeSchema(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("schema %d: second pass changed output:\nonce:  %v\ntwice: %v", i, once, twice)
		}
	}
}
