package classify

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// intentSchema constrains the classifier's reply. Anything that fails this
// schema is treated as a classification failure and replaced by the
// deterministic default upstream.
const intentSchema = `{
	"type": "object",
	"required": ["intents", "summary"],
	"properties": {
		"intents": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["kind"],
				"properties": {
					"kind": {"type": "string", "enum": ["JOURNALING", "GOAL", "HABIT", "REMINDER", "QUERY"]},
					"parsed_entities": {"type": "object", "additionalProperties": {"type": "string"}},
					"needs_clarification": {"type": "boolean"},
					"clarification": {"type": "string"}
				}
			}
		},
		"summary": {"type": "string"}
	}
}`

type resultValidator struct {
	schema *jsonschema.Schema
}

func newResultValidator() (*resultValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(intentSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("intent.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("intent.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &resultValidator{schema: schema}, nil
}

// validate extracts the JSON object from the model reply and checks it
// against the schema, returning the JSON string on success.
func (v *resultValidator) validate(responseText string) (string, error) {
	jsonStr := extractJSON(responseText)
	if jsonStr == "" {
		return "", fmt.Errorf("response contains no JSON")
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(parsed); err != nil {
		return "", fmt.Errorf("schema validation failed: %w", err)
	}
	return jsonStr, nil
}

// extractJSON finds a JSON object in the response text: a fenced block if
// present, otherwise the outermost brace pair.
func extractJSON(text string) string {
	if start := strings.Index(text, "```json"); start >= 0 {
		rest := text[start+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return strings.TrimSpace(text[start : end+1])
	}
	return ""
}
