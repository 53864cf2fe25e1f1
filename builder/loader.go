package builder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/simon020286/biopipe/config"
)

// LoadPipelineFile reads and validates a pipeline definition from a YAML
// file.
func LoadPipelineFile(path string) (*config.PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file %s: %w", path, err)
	}
	return LoadPipeline(data)
}

// LoadPipeline parses and validates a pipeline definition from YAML bytes.
func LoadPipeline(data []byte) (*config.PipelineConfig, error) {
	cfg := &config.PipelineConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline definition: %w", err)
	}
	return cfg, nil
}
