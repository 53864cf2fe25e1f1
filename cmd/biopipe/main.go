package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	biopipe "github.com/simon020286/biopipe"
	"github.com/simon020286/biopipe/builder"
	"github.com/simon020286/biopipe/config"
	"github.com/simon020286/biopipe/models"
	_ "github.com/simon020286/biopipe/stages"
)

// eventLogger forwards pipeline events to the console log.
type eventLogger struct{}

func (eventLogger) OnEvent(event models.Event) {
	switch event.Type {
	case models.EventPipelineStarted:
		log.Info().Msgf("pipeline %v started", event.Data["pipeline"])
	case models.EventPipelineCompleted:
		log.Info().Msgf("pipeline %v completed in %v", event.Data["pipeline"], event.Data["duration"])
	case models.EventPipelineError:
		log.Error().Msgf("pipeline %v failed: %v", event.Data["pipeline"], event.Data["error"])
	case models.EventStageStarted:
		log.Info().Msgf("stage %v started%s", event.Data["stage"], branchSuffix(event))
	case models.EventStageCompleted:
		log.Info().Msgf("stage %v completed in %v%s", event.Data["stage"], event.Data["duration"], branchSuffix(event))
	case models.EventStageSkipped:
		log.Info().Msgf("stage %v is up to date, skipping", event.Data["stage"])
	case models.EventStageError:
		log.Error().Msgf("stage %v failed: %v", event.Data["stage"], event.Data["error"])
	case models.EventBranchFailed:
		log.Error().Msgf("branch %v failed: %v", event.Data["branch"], event.Data["error"])
	case models.EventCommandSubmitted:
		log.Debug().Msgf("submitting command: %v", event.Data["command"])
	case models.EventCommandCompleted:
		log.Debug().Msgf("command finished (exit %v)", event.Data["exit_code"])
	}
}

func branchSuffix(event models.Event) string {
	if b, ok := event.Data["branch"].(string); ok && b != "" {
		return fmt.Sprintf(" [branch %s]", b)
	}
	return ""
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	root := &cobra.Command{
		Use:           "biopipe",
		Short:         "Run file-based pipelines with dependency tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		log.Error().Msg(err.Error())
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		workDir    string
		inputs     []string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline.yml>",
		Short: "Execute a pipeline definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}

			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			pipelineCfg, err := builder.LoadPipelineFile(args[0])
			if err != nil {
				return err
			}
			node, err := biopipe.BuildFromConfig(pipelineCfg)
			if err != nil {
				return err
			}

			if workDir != "" {
				if err := os.Chdir(workDir); err != nil {
					return fmt.Errorf("failed to enter working directory %s: %w", workDir, err)
				}
			}

			runInputs := inputs
			if len(runInputs) == 0 {
				runInputs = pipelineCfg.Inputs
			}

			runner := biopipe.NewRunner(".", cfg)
			runner.Variables = pipelineCfg.Variables
			runner.AddListener(eventLogger{})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			outputs, err := runner.Run(ctx, pipelineCfg.Name, node, runInputs)
			if err != nil {
				return err
			}
			log.Info().Strs("outputs", outputs).Msg("pipeline finished")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "run configuration file")
	cmd.Flags().StringVarP(&workDir, "dir", "C", "", "working directory")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "initial input file (repeatable)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}
