package internal

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/alessio/shellescape"
)

// Runner executes external tools.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CommandRunner runs commands as local processes.
type CommandRunner struct {
	Log *slog.Logger
}

var _ Runner = (*CommandRunner)(nil)

func (r *CommandRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	commandLine := shellescape.QuoteCommand(append([]string{name}, args...))
	if r.Log != nil {
		r.Log.Debug("Running command", "command", commandLine, "dir", dir)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if output := strings.TrimSpace(stderr.String()); output != "" {
			return stdout.Bytes(), fmt.Errorf("'%s' failed: %w: %s", commandLine, err, output)
		}
		return stdout.Bytes(), fmt.Errorf("'%s' failed: %w", commandLine, err)
	}
	return stdout.Bytes(), nil
}

// Pipe runs producer and feeds its output to bash, like `producer | bash`.
func Pipe(ctx context.Context, r Runner, dir string, producer ...string) ([]byte, error) {
	return r.Run(ctx, dir, "bash", "-o", "pipefail", "-c", shellescape.QuoteCommand(producer)+" | bash")
}
