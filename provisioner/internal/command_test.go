package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	calls [][]string
}

func (r *recordingRunner) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{dir, name}, args...))
	return nil, nil
}

func TestPipeQuotesProducer(t *testing.T) {
	runner := &recordingRunner{}
	_, err := Pipe(context.Background(), runner, "/work", "talhelper", "gencommand", "apply", "--extra-flags", "--insecure --debug")
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{
		"/work", "bash", "-o", "pipefail", "-c",
		"talhelper gencommand apply --extra-flags '--insecure --debug' | bash",
	}, runner.calls[0])
}

func TestCommandRunnerReportsStderr(t *testing.T) {
	runner := &CommandRunner{}
	_, err := runner.Run(context.Background(), "", "sh", "-c", "echo nope >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3: nope")
}

func TestCommandRunnerReturnsStdout(t *testing.T) {
	runner := &CommandRunner{}
	out, err := runner.Run(context.Background(), t.TempDir(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}
