package testutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/urfave/cli/v3"
)

// RunCommand executes a command under a throwaway root app, capturing its
// output. Flags are parsed from args exactly as they would be on the real
// command line.
func RunCommand(t *testing.T, command *cli.Command, args []string) (string, error) {
	t.Helper()
	return RunCommandWithContext(context.Background(), t, command, args)
}

// RunCommandWithContext is RunCommand with a caller-supplied context, for
// tests that exercise cancellation.
func RunCommandWithContext(ctx context.Context, t *testing.T, command *cli.Command, args []string) (string, error) {
	t.Helper()

	var buf bytes.Buffer

	// cli v3 fills a subcommand's nil Writer with os.Stdout during setup
	// rather than inheriting the parent's, so the command under test needs
	// the buffer set on it directly.
	prev := command.Writer
	command.Writer = &buf
	defer func() { command.Writer = prev }()

	app := &cli.Command{
		Name:     "test",
		Writer:   &buf,
		Commands: []*cli.Command{command},
	}

	fullArgs := append([]string{"test", command.Name}, args...)
	err := app.Run(ctx, fullArgs)

	return buf.String(), err
}
