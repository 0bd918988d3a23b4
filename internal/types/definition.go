package types

import (
	"fmt"
	"strings"
)

// AgentDefinition describes a dynamic agent: a trusted textual unit whose
// bodies stay text until first use, then compile into one cached instance.
type AgentDefinition struct {
	Name          string            `yaml:"name" json:"name"`
	Description   string            `yaml:"description" json:"description"`
	InputSchema   map[string]string `yaml:"input_schema" json:"input_schema,omitempty"`
	Capabilities  []string          `yaml:"capabilities" json:"capabilities,omitempty"`
	BootstrapBody string            `yaml:"bootstrap" json:"bootstrap,omitempty"`
	ExecuteBody   string            `yaml:"execute" json:"execute"`
}

// Validate checks the definition shape. Capability subset checks against the
// sandbox grant happen at load time, not here.
func (d AgentDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("agent definition missing name")
	}
	if strings.TrimSpace(d.ExecuteBody) == "" {
		return fmt.Errorf("agent %q has no execute body", d.Name)
	}
	for _, cap := range d.Capabilities {
		if strings.TrimSpace(cap) == "" {
			return fmt.Errorf("agent %q declares an empty capability", d.Name)
		}
	}
	return nil
}
