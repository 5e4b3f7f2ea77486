package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mattn/go-shellwords"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/cosmos-bootstrap/internal/logger"
)

var (
	// ErrSpawnFailed is returned when the node binary cannot be started.
	ErrSpawnFailed = errors.New("unable to start node binary")
	// ErrNonZeroExit is matched by ExitError for a command that exited unsuccessfully.
	ErrNonZeroExit = errors.New("node command exited with non-zero status")
	// ErrInvalidCommand is returned when the command string cannot be split into arguments.
	ErrInvalidCommand = errors.New("invalid node command")
)

// ExitError reports the exit code of a failed node command.
type ExitError struct {
	// Code is the exit status of the child process.
	Code int
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit code %d", ErrNonZeroExit, e.Code)
}

// Is makes errors.Is(err, ErrNonZeroExit) match any exit code.
func (e *ExitError) Is(target error) bool {
	return target == ErrNonZeroExit
}

// Bootstrapper runs node subcommands as child processes.
type Bootstrapper struct {
	// stdout receives the child's standard output.
	stdout io.Writer
	// stderr receives the child's standard error.
	stderr io.Writer
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithOutput redirects the child's output streams. Nil writers keep the defaults.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(b *Bootstrapper) {
		if stdout != nil {
			b.stdout = stdout
		}

		if stderr != nil {
			b.stderr = stderr
		}
	}
}

// New creates a Bootstrapper passing child output through to the process's own streams.
func New(opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// SplitCommand splits a command string into arguments using shell quoting rules.
// Environment variables and command substitution are not expanded.
func SplitCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false

	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCommand, command, err)
	}

	if parser.Position >= 0 {
		return nil, fmt.Errorf("%w: %q: shell operators are not supported", ErrInvalidCommand, command)
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}

	return args, nil
}

// Initialize runs binary with the arguments of command inside workingDir and
// waits for it to finish.
func (b *Bootstrapper) Initialize(ctx context.Context, binary, command, workingDir string) error {
	args, err := SplitCommand(command)
	if err != nil {
		return err
	}

	binary, err = filepath.Abs(binary)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	logger.InfoKV(ctx, "Running node command", "binary", binary, "args", args, "dir", workingDir)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = workingDir
	cmd.Stdout = b.stdout
	cmd.Stderr = b.stderr

	if err = cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSpawnFailed, binary, err)
	}

	err = cmd.Wait()
	if err == nil {
		logger.Info(ctx, "Node command finished successfully")
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		logger.WarnKV(ctx, "Node command failed", "exit_code", code)

		return &ExitError{Code: code}
	}

	return fmt.Errorf("wait for %s: %w", binary, err)
}

// RunningProcesses returns the PIDs of running processes whose executable
// name equals the base name of binary, excluding the current process.
func RunningProcesses(binary string) ([]int, error) {
	processList, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var (
		name          = filepath.Base(binary)
		thisProcessID = os.Getpid()
		pids          []int
	)

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() == name {
			pids = append(pids, process.Pid())
		}
	}

	return pids, nil
}

// IsProcessAlive reports whether a process with the given PID exists.
func IsProcessAlive(pid int) (bool, error) {
	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("find process %d: %w", pid, err)
	}

	return process != nil, nil
}
