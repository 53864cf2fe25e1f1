package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/simon020286/biopipe/builder"
	"github.com/simon020286/biopipe/config"
	"github.com/simon020286/biopipe/models"
)

// JsBody runs a JavaScript stage body. The script sees the stage inputs
// and branch, and drives the stage through exec/setOutput/forward.
type JsBody struct {
	code string
}

func (b *JsBody) Run(ctx context.Context, c *models.Context) error {
	runtime := goja.New()

	runtime.Set("input", c.Input)
	runtime.Set("output", c.Output)
	runtime.Set("branch", c.Branch)
	runtime.Set("stage", c.StageName)
	runtime.Set("variables", c.Variables)

	// exec stops at the first failing command; the error surfaces after
	// the script returns.
	var execErr error
	runtime.Set("exec", func(command string, outputs ...string) bool {
		if execErr != nil {
			return false
		}
		execErr = c.Exec(ctx, command, outputs...)
		return execErr == nil
	})
	runtime.Set("setOutput", func(outputs ...string) {
		c.SetOutput(outputs...)
	})
	runtime.Set("forward", func(inputs ...string) {
		c.NextInputs = append([]string(nil), inputs...)
	})

	if _, err := runtime.RunString(b.code); err != nil {
		return fmt.Errorf("script body failed in stage %s: %w", c.StageName, err)
	}
	return execErr
}

func init() {
	builder.RegisterBodyType("js",
		func(node *config.NodeConfig) bool { return node.Script != "" },
		func(node *config.NodeConfig) (models.Body, error) {
			if strings.TrimSpace(node.Script) == "" {
				return nil, models.ErrMissingConfig("script")
			}
			return &JsBody{code: node.Script}, nil
		})
}
