package config

import "fmt"

// PipelineConfig is the complete pipeline definition from YAML.
type PipelineConfig struct {
	Name      string         `yaml:"name"`
	Variables map[string]any `yaml:"variables,omitempty"` // Global reusable variables
	Inputs    []string       `yaml:"inputs,omitempty"`    // Default initial inputs
	Stages    []NodeConfig   `yaml:"stages"`
}

// NodeConfig is one element of a pipeline expression. A node is either a
// stage (exec or script set) or a fan-out (over or pattern set, with
// nested stages run per branch).
type NodeConfig struct {
	Name    string   `yaml:"name,omitempty"`
	Exec    string   `yaml:"exec,omitempty"`    // Shell command template
	Script  string   `yaml:"script,omitempty"`  // JavaScript body
	Outputs []string `yaml:"outputs,omitempty"` // Declared outputs

	Over    []string     `yaml:"over,omitempty"`    // Fan-out branch keys
	Pattern string       `yaml:"pattern,omitempty"` // Fan-out filename pattern
	Stages  []NodeConfig `yaml:"stages,omitempty"`  // Fan-out segments
}

// IsFanout reports whether the node is a fan-out rather than a stage.
func (n *NodeConfig) IsFanout() bool {
	return len(n.Over) > 0 || n.Pattern != ""
}

// Validate checks the pipeline definition for structural errors.
func (c *PipelineConfig) Validate() error {
	if len(c.Stages) == 0 {
		return fmt.Errorf("pipeline %q defines no stages", c.Name)
	}
	for i := range c.Stages {
		if err := c.Stages[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

func (n *NodeConfig) validate() error {
	if n.IsFanout() {
		if n.Exec != "" || n.Script != "" {
			return fmt.Errorf("node %q mixes fan-out with a stage body", n.Name)
		}
		if len(n.Over) > 0 && n.Pattern != "" {
			return fmt.Errorf("node %q sets both over and pattern", n.Name)
		}
		if len(n.Stages) == 0 {
			return fmt.Errorf("fan-out node %q has no stages", n.Name)
		}
		for i := range n.Stages {
			if err := n.Stages[i].validate(); err != nil {
				return err
			}
		}
		return nil
	}

	if n.Name == "" {
		return fmt.Errorf("stage without a name")
	}
	if n.Exec == "" && n.Script == "" {
		return fmt.Errorf("stage %q has neither exec nor script", n.Name)
	}
	if n.Exec != "" && n.Script != "" {
		return fmt.Errorf("stage %q sets both exec and script", n.Name)
	}
	return nil
}
