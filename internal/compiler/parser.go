package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aretw0/chatflow/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Parser is responsible for converting raw bytes into a Flow document.
type Parser struct {
	// SkipSchema disables the JSON Schema check.
	SkipSchema bool
}

// NewParser creates a new parser instance.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a flow document. JSON is the transfer format; YAML is accepted
// for hand-written flows and converted to JSON before decoding.
func (p *Parser) Parse(data []byte) (*domain.Flow, error) {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty flow document")
	}

	if raw[0] != '{' {
		converted, err := yamlToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse flow: %w", err)
		}
		raw = converted
	}

	if !p.SkipSchema {
		if err := ValidateJSON(raw); err != nil {
			return nil, err
		}
	}

	var flow domain.Flow
	if err := json.Unmarshal(raw, &flow); err != nil {
		return nil, fmt.Errorf("failed to parse flow: %w", err)
	}
	return &flow, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("flow document must be a mapping")
	}
	return json.Marshal(doc)
}
