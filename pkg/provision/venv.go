package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

const (
	// VenvDirName is the environment directory created inside each snapshot.
	VenvDirName = ".venv"
	// DefaultTimeout bounds one venv or pip command.
	DefaultTimeout = 20 * time.Minute
)

// CommandFunc runs one command and returns its combined output.
type CommandFunc func(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)

// ExecCommand is the CommandFunc backed by os/exec.
func ExecCommand(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env

	return cmd.CombinedOutput()
}

// VenvProvisioner creates a Python virtual environment per snapshot and
// installs into it with pip.
type VenvProvisioner struct {
	// Python creates the environment, "python3" when empty.
	Python string
	// BaseEnv is the environment every command starts from.
	BaseEnv []string
	// Command runs external commands, ExecCommand when nil.
	Command CommandFunc
	// Timeout bounds every command; DefaultTimeout when zero.
	Timeout time.Duration

	Logger *slog.Logger
}

// Provision runs "python -m venv" inside the snapshot.
func (p *VenvProvisioner) Provision(ctx context.Context, snap *snapshot.Snapshot) (*Environment, error) {
	dir := filepath.Join(snap.Dir, VenvDirName)
	python := p.Python

	if python == "" {
		python = "python3"
	}

	out, err := p.run(ctx, snap.Dir, p.baseEnv(), python, "-m", "venv", dir)
	if err != nil {
		return nil, &Error{Revision: snap.Revision.ID, Stage: "venv", Output: string(out), Err: err}
	}

	bin := filepath.Join(dir, binDirName())

	return &Environment{
		Revision: snap.Revision.ID,
		Root:     snap.Dir,
		Dir:      dir,
		BinDir:   bin,
		Python:   filepath.Join(bin, "python"),
		Vars: map[string]string{
			"VIRTUAL_ENV":      dir,
			"PYTHONNOUSERSITE": "1",
		},
	}, nil
}

// Install runs pip once per source. Every source is attempted; failures are
// collected in the report and joined in the returned error.
func (p *VenvProvisioner) Install(ctx context.Context, env *Environment, sources ...Source) (*InstallReport, error) {
	if env == nil {
		return nil, ErrNoEnvironment
	}

	report := &InstallReport{}

	for _, src := range sources {
		args := src.Args(env)
		if len(args) == 0 {
			continue
		}

		pipArgs := append([]string{"-m", "pip", "install", "-U"}, args...)

		p.logger().Debug("installing", "source", src.Name, "args", strings.Join(args, " "))

		out, err := p.run(ctx, env.Root, env.Apply(p.baseEnv()), env.Python, pipArgs...)
		report.Steps = append(report.Steps, Step{Source: src.Name, Output: string(out), Err: err})
	}

	failed := report.Failed()
	if len(failed) == 0 {
		return report, nil
	}

	names := make([]string, 0, len(failed))
	output := make([]string, 0, len(failed))

	for _, s := range failed {
		names = append(names, s.Source)
		output = append(output, s.Output)
	}

	return report, &Error{
		Revision: env.Revision,
		Stage:    "install",
		Output:   strings.Join(output, "\n"),
		Err:      fmt.Errorf("installing %s: %w", strings.Join(names, ", "), failed[0].Err),
	}
}

// run executes one command under the provisioning timeout.
func (p *VenvProvisioner) run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	limit := p.Timeout
	if limit <= 0 {
		limit = DefaultTimeout
	}

	cmdCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	command := p.Command
	if command == nil {
		command = ExecCommand
	}

	out, err := command(cmdCtx, dir, env, name, args...)
	if err != nil && ctx.Err() == nil && errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("%w after %s: %w", ErrCommandTimeout, limit, err)
	}

	return out, err
}

func (p *VenvProvisioner) baseEnv() []string {
	if p.BaseEnv != nil {
		return p.BaseEnv
	}

	return os.Environ()
}

func (p *VenvProvisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}

	return slog.Default()
}
