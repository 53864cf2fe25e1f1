// Package stages provides the registered stage body types: exec bodies
// that dispatch interpolated shell commands, and js bodies scripted in
// JavaScript.
package stages

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/simon020286/biopipe/builder"
	"github.com/simon020286/biopipe/config"
	"github.com/simon020286/biopipe/models"
)

// ExecBody runs one shell command template. Tokens like $input, $input2,
// $output, $branch and pipeline variables are resolved against the stage
// context before dispatch.
type ExecBody struct {
	command string
}

func (b *ExecBody) Run(ctx context.Context, c *models.Context) error {
	command, err := Interpolate(b.command, c)
	if err != nil {
		return err
	}
	return c.Exec(ctx, command, c.Output...)
}

var tokenPattern = regexp.MustCompile(`\$(\w+)`)

// Interpolate resolves $-tokens in a command template against a stage
// context. Unresolvable tokens are an error rather than being passed
// through to the shell.
func Interpolate(command string, c *models.Context) (string, error) {
	var failed string
	resolved := tokenPattern.ReplaceAllStringFunc(command, func(token string) string {
		name := token[1:]
		value, ok := resolveToken(name, c)
		if !ok && failed == "" {
			failed = name
		}
		return value
	})
	if failed != "" {
		return "", &models.InterpolateError{Token: failed, Command: command}
	}
	return resolved, nil
}

func resolveToken(name string, c *models.Context) (string, bool) {
	switch name {
	case "input":
		if len(c.Input) == 0 {
			return "", false
		}
		return c.Input[0], true
	case "inputs":
		if len(c.Input) == 0 {
			return "", false
		}
		return strings.Join(c.Input, " "), true
	case "output":
		if len(c.Output) == 0 {
			return "", false
		}
		return c.Output[0], true
	case "outputs":
		if len(c.Output) == 0 {
			return "", false
		}
		return strings.Join(c.Output, " "), true
	case "branch":
		return c.Branch, true
	}

	if rest, found := strings.CutPrefix(name, "input"); found {
		if i, err := strconv.Atoi(rest); err == nil && i >= 1 && i <= len(c.Input) {
			return c.Input[i-1], true
		}
		return "", false
	}
	if rest, found := strings.CutPrefix(name, "output"); found {
		if i, err := strconv.Atoi(rest); err == nil && i >= 1 && i <= len(c.Output) {
			return c.Output[i-1], true
		}
		return "", false
	}

	if v, exists := c.Variables[name]; exists {
		return fmt.Sprintf("%v", v), true
	}
	return "", false
}

func init() {
	builder.RegisterBodyType("exec",
		func(node *config.NodeConfig) bool { return node.Exec != "" },
		func(node *config.NodeConfig) (models.Body, error) {
			if strings.TrimSpace(node.Exec) == "" {
				return nil, models.ErrMissingConfig("exec")
			}
			return &ExecBody{command: node.Exec}, nil
		})
}
