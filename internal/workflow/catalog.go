package workflow

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"mondayease/api/internal/store"
)

// Action kinds.
const (
	ActionWebhook = "webhook"
	ActionEmail   = "email"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Templates []catalogEntry `yaml:"templates"`
}

type catalogEntry struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Action      struct {
		Kind   string         `yaml:"kind"`
		Config map[string]any `yaml:"config"`
	} `yaml:"action"`
	InputSchema map[string]any `yaml:"input_schema"`
}

// Catalog returns the built-in templates ready to be seeded.
func Catalog() ([]store.WorkflowTemplate, error) {
	return parseCatalog(catalogYAML)
}

func parseCatalog(raw []byte) ([]store.WorkflowTemplate, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse workflow catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Templates))
	out := make([]store.WorkflowTemplate, 0, len(file.Templates))
	for _, entry := range file.Templates {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			return nil, fmt.Errorf("workflow catalog: template %q has no key", entry.Name)
		}
		if seen[key] {
			return nil, fmt.Errorf("workflow catalog: duplicate key %q", key)
		}
		seen[key] = true
		if entry.Action.Kind != ActionWebhook && entry.Action.Kind != ActionEmail {
			return nil, fmt.Errorf("workflow catalog: %s has unknown action kind %q", key, entry.Action.Kind)
		}

		config, err := json.Marshal(orEmpty(entry.Action.Config))
		if err != nil {
			return nil, fmt.Errorf("workflow catalog: %s action config: %w", key, err)
		}
		schema, err := json.Marshal(orEmpty(entry.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("workflow catalog: %s input schema: %w", key, err)
		}
		if err := CheckSchema(schema); err != nil {
			return nil, fmt.Errorf("workflow catalog: %s: %w", key, err)
		}

		out = append(out, store.WorkflowTemplate{
			ID:           "wft_" + strings.ReplaceAll(key, "-", "_"),
			Key:          key,
			Name:         entry.Name,
			Description:  entry.Description,
			Category:     entry.Category,
			ActionKind:   entry.Action.Kind,
			ActionConfig: config,
			InputSchema:  schema,
			IsActive:     true,
		})
	}
	return out, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
