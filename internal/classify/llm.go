package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/skillpress/skillpress/internal/providers"
	"github.com/skillpress/skillpress/internal/stage"
)

// labelsSchema constrains the LLM's classification output. Responses
// that fail validation are treated as permanent failures for the
// attempt: re-sending the same prompt tends to reproduce the same
// malformed shape, so the executor should not burn retries on it.
const labelsSchema = `{
	"type": "object",
	"properties": {
		"labels": {
			"type": "array",
			"items": {"type": "string", "minLength": 1},
			"maxItems": 8
		}
	},
	"required": ["labels"],
	"additionalProperties": false
}`

const llmClassifySystem = "You label excerpts of tax documentation. " +
	"Respond with JSON only: an object with a \"labels\" array of short kebab-case topic labels."

// LLMClassifier asks an LLM provider for topic labels and validates the
// response against a JSON schema.
type LLMClassifier struct {
	provider providers.Provider
	schema   *jsonschema.Schema
}

// NewLLMClassifier compiles the label schema and wraps the provider.
func NewLLMClassifier(p providers.Provider) (*LLMClassifier, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("labels.json", bytes.NewReader([]byte(labelsSchema))); err != nil {
		return nil, fmt.Errorf("failed to load label schema: %w", err)
	}
	schema, err := compiler.Compile("labels.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile label schema: %w", err)
	}
	return &LLMClassifier{provider: p, schema: schema}, nil
}

// Classify requests labels from the provider and validates them.
func (c *LLMClassifier) Classify(ctx context.Context, text string) ([]string, error) {
	resp, err := c.provider.Process(ctx, &providers.Request{
		System: llmClassifySystem,
		Prompt: fmt.Sprintf("Label the following excerpt:\n\n%s", text),
	})
	if err != nil {
		return nil, err
	}

	raw, err := parseJSONContent(resp.Content)
	if err != nil {
		return nil, stage.Permanent(fmt.Errorf("classification output is not JSON: %w", err))
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, stage.Permanent(fmt.Errorf("failed to decode classification output: %w", err))
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, stage.Permanent(fmt.Errorf("classification output does not match schema: %w", err))
	}

	labels, err := DecodeLabels(string(raw))
	if err != nil {
		return nil, stage.Permanent(err)
	}
	return labels, nil
}

// parseJSONContent extracts JSON from model output, with lightweight
// recovery for markdown code fences and surrounding prose.
func parseJSONContent(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			candidates = append(candidates, content[start:end+1])
		}
	}

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, fmt.Errorf("no JSON object found")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Verify interface
var _ Classifier = (*LLMClassifier)(nil)
