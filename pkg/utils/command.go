package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for orphaned children holding the
// output pipes after the command was killed.
const waitDelay = 2 * time.Second

// CommandRunner abstracts execution of external programs.
type CommandRunner interface {
	// Run executes name with args and returns its standard output. The output
	// is returned even when the command fails, since some tools report results
	// through a non-zero exit status.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s exited with code %d", name, exitErr.ExitCode())
	}
	return stdout.Bytes(), fmt.Errorf("running %s: %w", name, err)
}

// SplitCommand splits a configured command line such as "sudo shutdown now"
// into the program and its arguments. Quoting is not supported.
func SplitCommand(line string) (string, []string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, errors.New("empty command")
	}
	return fields[0], fields[1:], nil
}
