package biopipe

import (
	"github.com/simon020286/biopipe/builder"
	"github.com/simon020286/biopipe/config"
)

// BuildFromConfig turns a pipeline definition into a composed expression
// ready for a Runner.
func BuildFromConfig(cfg *config.PipelineConfig) (Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return buildSeq(cfg.Stages)
}

func buildSeq(nodes []config.NodeConfig) (Node, error) {
	built := make([]Node, 0, len(nodes))
	for i := range nodes {
		n, err := buildNode(&nodes[i])
		if err != nil {
			return nil, err
		}
		built = append(built, n)
	}
	if len(built) == 1 {
		return built[0], nil
	}
	return Seq(built...), nil
}

func buildNode(nc *config.NodeConfig) (Node, error) {
	if nc.IsFanout() {
		segments := make([]Node, 0, len(nc.Stages))
		for i := range nc.Stages {
			seg, err := buildNode(&nc.Stages[i])
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
		}
		if nc.Pattern != "" {
			return ParallelPattern(nc.Pattern, segments...), nil
		}
		return Parallel(nc.Over, segments...), nil
	}

	body, err := builder.CreateBody(nc)
	if err != nil {
		return nil, err
	}
	return NewStage(nc.Name, body, nc.Outputs...), nil
}
