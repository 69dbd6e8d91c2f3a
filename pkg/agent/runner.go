package agent

import (
	"context"
	"fmt"

	"github.com/wrenhq/fleetwatch/pkg/logger"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

// LogRunner is the default command runner. It does not execute anything on
// the host; it logs the command and reports success, which keeps the
// dispatch path exercisable without granting the agent shell access.
type LogRunner struct {
	logger logger.Logger
}

func NewLogRunner(log logger.Logger) *LogRunner {
	return &LogRunner{logger: log}
}

func (r *LogRunner) Run(_ context.Context, cmd *models.Command) (bool, string) {
	r.logger.Info().
		Int64("command_id", cmd.ID).
		Str("command", cmd.Name).
		RawJSON("args", argsOrEmpty(cmd.Args)).
		Msg("received command")

	return true, fmt.Sprintf("executed %s", cmd.Name)
}

func argsOrEmpty(args []byte) []byte {
	if len(args) == 0 {
		return []byte("{}")
	}

	return args
}
