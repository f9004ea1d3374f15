// Package driver is a thin, stateless wrapper around the local
// container-runtime CLI (spec.md §4.1). It never holds pool state; it
// only shells out and parses the runtime's output.
package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Fixed internal ports the container image exposes. The driver binds
// these to a slot's external ports on run.
const (
	InternalAppPort      = 8080
	InternalDebuggerPort = 19222
	InternalVNCPort      = 15900
)

var (
	// ErrRuntimeUnavailable is returned by EnsureAvailable when the
	// runtime never answers within the attempt budget.
	ErrRuntimeUnavailable = errors.New("driver: container runtime unavailable")
	// ErrImagePullFailed is returned by PullImage on a non-zero exit.
	ErrImagePullFailed = errors.New("driver: image pull failed")
	// ErrRunFailed is returned by Run on a non-zero exit.
	ErrRunFailed = errors.New("driver: container run failed")
	// ErrAlreadyGone is returned by Stop/Restart when the runtime
	// reports the container no longer exists; callers treat it as
	// success.
	ErrAlreadyGone = errors.New("driver: container already gone")
	// ErrStopFailed is returned by Stop/Restart for any other error.
	ErrStopFailed = errors.New("driver: stop failed")
)

const (
	ensureAvailableAttempts = 50
	ensureAvailableTimeout  = 5 * time.Second
	ensureAvailableInterval = 5 * time.Second
)

// PortMap is a host-port -> container-port binding, e.g.
// {10222: 8080, 7070: 19222, 15900: 15900}.
type PortMap map[int]int

// Runner is the interface over container-runtime CLI operations. All
// methods block until the operation completes.
type Runner interface {
	// EnsureAvailable repeatedly invokes `info` until the runtime
	// answers or the attempt budget is exhausted.
	EnsureAvailable(ctx context.Context) error
	// PullImage pulls ref with no retries.
	PullImage(ctx context.Context, ref string) error
	// Run launches a detached, auto-remove container named `name`
	// from `image`, with the given env vars, host:container port
	// bindings, and verbatim extra CLI args.
	Run(ctx context.Context, name, image string, envs map[string]string, ports PortMap, extraArgs []string) error
	// Stop stops the named container.
	Stop(ctx context.Context, name string) error
	// Restart restarts the named container in place.
	Restart(ctx context.Context, name string) error
	// Kill forcibly removes the named container; errors are expected
	// and ignored by callers (spec.md §4.4 init).
	Kill(ctx context.Context, name string) error
	// ListByPrefix returns container names matching prefix.
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
	// Inspect returns parsed metadata for the named container.
	Inspect(ctx context.Context, name string) (*Inspection, error)
}

// Inspection is the parsed subset of `inspect` output the pool needs.
type Inspection struct {
	Name      string
	Labels    map[string]string
	CreatedAt time.Time
	Ports     PortMap
	Running   bool
}

// CLIRunner shells out to the runtime binary discovered by
// DiscoverBinary. It is safe for concurrent use; the runtime CLI
// itself serializes each invocation.
type CLIRunner struct {
	binary string
	path   string // assembled PATH forwarded to every invocation
	env    []string
}

// NewCLIRunner discovers the runtime binary and assembles the PATH and
// environment forwarded to every subsequent invocation (spec.md §4.1
// "Binary discovery").
func NewCLIRunner() (*CLIRunner, error) {
	path := AssemblePath()
	binary, err := DiscoverBinary(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return &CLIRunner{
		binary: binary,
		path:   path,
		env:    RuntimeEnv(path),
	}, nil
}

func (r *CLIRunner) command(ctx context.Context, args ...string) (*exec.Cmd, *bytes.Buffer, *bytes.Buffer) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Env = r.env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	return cmd, &stdout, &stderr
}

func (r *CLIRunner) run(ctx context.Context, args ...string) (string, error) {
	cmd, stdout, stderr := r.command(ctx, args...)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", r.binary, strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

func (r *CLIRunner) EnsureAvailable(ctx context.Context) error {
	for attempt := 0; attempt < ensureAvailableAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, ensureAvailableTimeout)
		_, err := r.run(attemptCtx, "info")
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ensureAvailableInterval):
		}
	}
	return ErrRuntimeUnavailable
}

func (r *CLIRunner) PullImage(ctx context.Context, ref string) error {
	if _, err := r.run(ctx, "pull", ref); err != nil {
		return fmt.Errorf("%w: %v", ErrImagePullFailed, err)
	}
	return nil
}

func (r *CLIRunner) Run(ctx context.Context, name, image string, envs map[string]string, ports PortMap, extraArgs []string) error {
	args := []string{"run", "-d", "--pull", "never", "--rm"}
	args = append(args, extraArgs...)
	args = append(args, "--name", name)
	for k, v := range envs {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	for host, container := range ports {
		args = append(args, "-p", fmt.Sprintf("%d:%d", host, container))
	}
	args = append(args, image)

	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("%w: %v", ErrRunFailed, err)
	}
	return nil
}

func (r *CLIRunner) Stop(ctx context.Context, name string) error {
	return r.stopOrRestart(ctx, "stop", name)
}

func (r *CLIRunner) Restart(ctx context.Context, name string) error {
	return r.stopOrRestart(ctx, "restart", name)
}

func (r *CLIRunner) stopOrRestart(ctx context.Context, verb, name string) error {
	_, err := r.run(ctx, verb, name)
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "no such container") {
		return ErrAlreadyGone
	}
	return fmt.Errorf("%w: %v", ErrStopFailed, err)
}

func (r *CLIRunner) Kill(ctx context.Context, name string) error {
	_, err := r.run(ctx, "kill", name)
	return err
}

func (r *CLIRunner) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	out, err := r.run(ctx, "ps", "--format", "{{.Names}}")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, prefix) {
			names = append(names, line)
		}
	}
	return names, nil
}

func (r *CLIRunner) Inspect(ctx context.Context, name string) (*Inspection, error) {
	out, err := r.run(ctx, "inspect", name)
	if err != nil {
		return nil, err
	}
	return parseInspectOutput(name, out)
}
