// Package provision creates isolated dependency environments inside
// snapshots and installs code into them.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

var (
	// ErrNoEnvironment is returned by Install when called with a nil environment.
	ErrNoEnvironment = errors.New("no environment")
	// ErrCommandTimeout marks a venv or pip command killed by the timeout.
	ErrCommandTimeout = errors.New("provisioning command timed out")
)

// Error is a revision-scoped provisioning failure. The run continues in
// degraded mode.
type Error struct {
	Revision string
	Stage    string
	Output   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision %s: %s: %v", e.Revision, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Environment is a disposable dependency context inside one snapshot.
type Environment struct {
	// Revision is the revision of the owning snapshot.
	Revision string
	// Root is the snapshot directory the environment belongs to.
	Root string
	// Dir is the environment directory.
	Dir string
	// BinDir holds the environment's executables.
	BinDir string
	// Python is the interpreter inside the environment.
	Python string
	// Vars are extra variables every child process receives.
	Vars map[string]string
}

// Apply returns base with the environment activated: Vars set and BinDir
// first on PATH. The caller's own process environment is not touched.
func (e *Environment) Apply(base []string) []string {
	if e == nil {
		return base
	}

	out := make([]string, 0, len(base)+len(e.Vars)+1)
	override := map[string]bool{"PATH": true}

	for k := range e.Vars {
		override[k] = true
	}

	path := ""

	for _, kv := range base {
		key, value, _ := strings.Cut(kv, "=")
		if key == "PATH" {
			path = value
		}

		if override[key] {
			continue
		}

		out = append(out, kv)
	}

	for k, v := range e.Vars {
		out = append(out, k+"="+v)
	}

	if path == "" {
		path = e.BinDir
	} else {
		path = e.BinDir + string(os.PathListSeparator) + path
	}

	return append(out, "PATH="+path)
}

// Source is one unit passed to Install.
type Source struct {
	Name string
	args func(env *Environment) []string
}

// Args returns the installer arguments for env. Empty means nothing to install.
func (s Source) Args(env *Environment) []string {
	if s.args == nil {
		return nil
	}

	return s.args(env)
}

// SnapshotSource installs the snapshot's own code as a package.
func SnapshotSource() Source {
	return Source{Name: "repository", args: func(env *Environment) []string {
		return []string{env.Root}
	}}
}

// PackagesSource installs pinned runtime dependencies.
func PackagesSource(pkgs ...string) Source {
	return Source{Name: "dependencies", args: func(*Environment) []string {
		return pkgs
	}}
}

// RequirementsSource installs a requirements file relative to the snapshot
// root, if the revision has one.
func RequirementsSource(file string) Source {
	return Source{Name: "requirements", args: func(env *Environment) []string {
		if file == "" {
			return nil
		}

		path := filepath.Join(env.Root, file)

		_, err := os.Stat(path)
		if err != nil {
			return nil
		}

		return []string{"-r", path}
	}}
}

// Step is the outcome of installing one source.
type Step struct {
	Source string
	Output string
	Err    error
}

// InstallReport collects per-source outcomes.
type InstallReport struct {
	Steps []Step
}

// Failed returns the steps that did not succeed.
func (r *InstallReport) Failed() []Step {
	if r == nil {
		return nil
	}

	var failed []Step

	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s)
		}
	}

	return failed
}

// Provisioner creates and fills environments.
type Provisioner interface {
	Provision(ctx context.Context, snap *snapshot.Snapshot) (*Environment, error)
	Install(ctx context.Context, env *Environment, sources ...Source) (*InstallReport, error)
}

// Nop never creates an environment. It is used when installation is not requested.
type Nop struct{}

// Provision returns a nil environment.
func (Nop) Provision(context.Context, *snapshot.Snapshot) (*Environment, error) {
	return nil, nil //nolint:nilnil // absence of an environment is the result.
}

// Install does nothing.
func (Nop) Install(context.Context, *Environment, ...Source) (*InstallReport, error) {
	return &InstallReport{}, nil
}

func binDirName() string {
	if runtime.GOOS == "windows" {
		return "Scripts"
	}

	return "bin"
}
