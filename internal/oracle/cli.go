package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// maxStderr bounds how much of a failing command's stderr ends up in errors
const maxStderr = 512

// CLIOracle runs an external backtest command per evaluation. The request is written to
// the command's stdin as JSON and a Response is read back from stdout.
type CLIOracle struct {
	command string
	args    []string
	env     []string
	log     zerolog.Logger
}

// NewCLIOracle creates an oracle that executes command with args
func NewCLIOracle(command string, args []string, env ...string) *CLIOracle {
	return &CLIOracle{
		command: command,
		args:    args,
		env:     env,
		log:     log.With().Str("component", "cli_oracle").Str("command", command).Logger(),
	}
}

// Evaluate implements evolution.FitnessOracle
func (o *CLIOracle) Evaluate(ctx context.Context, strategyType string, params evolution.ParameterSet, evalCtx evolution.EvaluationContext) (evolution.Metrics, error) {
	input, err := json.Marshal(NewRequest(strategyType, params, evalCtx))
	if err != nil {
		return evolution.Metrics{}, fmt.Errorf("failed to encode backtest request: %w", err)
	}

	cmd := exec.CommandContext(ctx, o.command, o.args...) // #nosec G204 -- command comes from operator config
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = time.Second
	if len(o.env) > 0 {
		cmd.Env = append(cmd.Environ(), o.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return evolution.Metrics{}, fmt.Errorf("backtest command interrupted: %w", ctxErr)
		}
		return evolution.Metrics{}, fmt.Errorf("%w: %v: %s", ErrBacktestFailed, err, tail(stderr.String()))
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return evolution.Metrics{}, fmt.Errorf("failed to decode backtest output: %w", err)
	}

	o.log.Debug().
		Str("strategy", strategyType).
		Str("params", params.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Backtest command finished")

	return resp.Metrics()
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return "..." + s[len(s)-maxStderr:]
	}
	return s
}
