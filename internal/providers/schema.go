package providers

// CleanToolSchemas converts tool definitions into the OpenAI-compatible
// wire shape ({"type":"function","function":{...}}), applying
// CleanSchemaForProvider to each tool's parameter schema so providers that
// reject JSON Schema keywords outside their supported subset (notably
// Gemini via the OpenAI-compatible endpoint) still receive a schema they
// accept.
func CleanToolSchemas(providerName string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(providerName, t.Function.Parameters),
			},
		})
	}
	return out
}

// CleanSchemaForProvider strips JSON Schema keywords a given provider's tool
// calling doesn't accept. Gemini (via both its native and OpenAI-compatible
// endpoints) rejects "additionalProperties", "$schema", and "default"
// anywhere in the tree; Anthropic and plain OpenAI receive the tools'
// hand-written schemas unmodified.
func CleanSchemaForProvider(providerName string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	if !needsSchemaCleaning(providerName) {
		return schema
	}
	return cleanSchemaValue(schema).(map[string]interface{})
}

func needsSchemaCleaning(providerName string) bool {
	switch providerName {
	case "gemini", "openrouter":
		return true
	}
	return false
}

var unsupportedSchemaKeys = map[string]bool{
	"additionalProperties": true,
	"$schema":              true,
	"default":               true,
	"$id":                  true,
}

func cleanSchemaValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		cleaned := make(map[string]interface{}, len(val))
		for k, vv := range val {
			if unsupportedSchemaKeys[k] {
				continue
			}
			cleaned[k] = cleanSchemaValue(vv)
		}
		return cleaned
	case []interface{}:
		cleaned := make([]interface{}, len(val))
		for i, vv := range val {
			cleaned[i] = cleanSchemaValue(vv)
		}
		return cleaned
	default:
		return v
	}
}
