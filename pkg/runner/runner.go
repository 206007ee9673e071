// Package runner executes one benchmark as an isolated child process and
// captures its single result value.
package runner

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
	"github.com/Sumatoshi-tech/benchtrail/pkg/provision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

//go:embed driver.py
var driverSource []byte

// Environment variables every benchmark process receives.
const (
	EnvResultFile = "BENCHTRAIL_RESULT_FILE"
	EnvRevision   = "BENCHTRAIL_REVISION"
	EnvBenchmark  = "BENCHTRAIL_BENCHMARK"
	EnvSnapshot   = "BENCHTRAIL_SNAPSHOT"
)

// Defaults.
const (
	DefaultTimeout  = 30 * time.Minute
	DefaultGrace    = 5 * time.Second
	DefaultTailSize = 8 << 10

	// missingMarkerSuffix names the file the driver leaves next to the
	// result file when a module has no run().
	missingMarkerSuffix = ".missing"
	resultFileName    = "result.json"
	driverFileName    = "benchtrail_driver.py"
)

// Runner executes one benchmark against a snapshot.
type Runner interface {
	Run(ctx context.Context, b bench.Benchmark, snap *snapshot.Snapshot, env *provision.Environment) Outcome
}

// ProcessRunner starts every benchmark as a separate OS process.
type ProcessRunner struct {
	// BenchDir is the benchmark directory relative to the snapshot root.
	BenchDir string
	// Python runs python benchmarks when no environment is provisioned.
	Python string
	// Timeout bounds a single benchmark; DefaultTimeout when zero.
	Timeout time.Duration
	// Grace is the wait between SIGTERM and SIGKILL; DefaultGrace when zero.
	Grace time.Duration
	// TailSize is how much output is kept for failure reports.
	TailSize int
	// Output receives the prefixed, merged stdout and stderr.
	Output io.Writer
	// BaseEnv is the environment children start from; os.Environ when nil.
	BaseEnv []string
	Logger  *slog.Logger

	// outMu keeps lines of concurrently running benchmarks from interleaving.
	outMu sync.Mutex
}

// Run executes b inside snap. Every failure is reported through the Outcome.
func (r *ProcessRunner) Run(ctx context.Context, b bench.Benchmark, snap *snapshot.Snapshot, env *provision.Environment) Outcome {
	start := time.Now()

	outcome := r.run(ctx, b, snap, env)
	outcome.Duration = time.Since(start)

	return outcome
}

func (r *ProcessRunner) run(ctx context.Context, b bench.Benchmark, snap *snapshot.Snapshot, env *provision.Environment) Outcome {
	benchDir := filepath.Join(snap.Dir, r.BenchDir)
	benchPath := filepath.Join(benchDir, b.File)

	_, statErr := os.Stat(benchPath)
	if statErr != nil {
		return failed(KindMissing, fmt.Errorf("benchmark file %s: %w", b.File, statErr))
	}

	work, err := os.MkdirTemp("", "benchtrail-run-")
	if err != nil {
		return failed(KindStart, fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(work)

	resultFile := filepath.Join(work, resultFileName)

	argv, err := r.command(b, benchPath, work, env)
	if err != nil {
		return failed(KindStart, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = benchDir
	cmd.Env = r.environ(b, snap, benchDir, resultFile, env)

	stream := newLineWriter(&syncWriter{mu: &r.outMu, w: r.Output}, OutputPrefix, r.tailSize())
	cmd.Stdout = stream
	cmd.Stderr = stream

	isolate(cmd)

	var escalate *time.Timer

	cmd.Cancel = func() error {
		escalate = time.AfterFunc(r.grace(), func() {
			_ = kill(cmd)
		})

		return terminate(cmd)
	}
	cmd.WaitDelay = 2 * r.grace()

	r.logger().Debug("starting benchmark", "benchmark", b.Name, "revision", snap.Revision.ID, "cmd", strings.Join(argv, " "))

	runErr := cmd.Run()

	if escalate != nil {
		escalate.Stop()
	}

	stream.Flush()

	return r.classify(ctx, runCtx, runErr, resultFile, stream.Tail())
}

func (r *ProcessRunner) classify(parent, runCtx context.Context, runErr error, resultFile, tail string) Outcome {
	if runErr != nil {
		out := failed(KindExit, runErr)
		out.Failure.Tail = tail

		var exitErr *exec.ExitError

		switch {
		case parent.Err() != nil:
			out.Failure.Kind = KindCanceled
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			out.Failure.Kind = KindTimeout
		case errors.As(runErr, &exitErr):
			if sig, ok := exitSignal(exitErr); ok {
				out.Failure.Kind = KindSignal
				out.Failure.Signal = sig
			} else {
				out.Failure.ExitCode = exitErr.ExitCode()
				if fileExists(resultFile + missingMarkerSuffix) {
					out.Failure.Kind = KindMissing
				}
			}
		case errors.Is(runErr, exec.ErrWaitDelay):
			// The child exited cleanly but a descendant kept the output open.
			return r.readResult(resultFile, tail)
		default:
			out.Failure.Kind = KindStart
		}

		return out
	}

	return r.readResult(resultFile, tail)
}

func (r *ProcessRunner) readResult(resultFile, tail string) Outcome {
	data, err := os.ReadFile(resultFile)
	if err != nil {
		kind := KindNoResult
		if !errors.Is(err, fs.ErrNotExist) {
			kind = KindInvalidResult
		}

		out := failed(kind, err)
		out.Failure.Tail = tail

		return out
	}

	if !json.Valid(data) {
		out := failed(KindInvalidResult, errors.New("result is not valid JSON"))
		out.Failure.Tail = tail

		return out
	}

	return Outcome{Status: StatusOK, Result: json.RawMessage(data)}
}

func (r *ProcessRunner) command(b bench.Benchmark, benchPath, work string, env *provision.Environment) ([]string, error) {
	switch b.Launcher {
	case bench.LauncherPython:
		driver := filepath.Join(work, driverFileName)

		err := os.WriteFile(driver, driverSource, 0o600)
		if err != nil {
			return nil, fmt.Errorf("write driver: %w", err)
		}

		python := r.Python
		if python == "" {
			python = "python3"
		}

		if env != nil && env.Python != "" {
			python = env.Python
		}

		return []string{python, "-u", driver, benchPath, b.Name}, nil
	case bench.LauncherExec:
		return []string{benchPath}, nil
	default:
		return nil, fmt.Errorf("unsupported launcher %q", b.Launcher)
	}
}

func (r *ProcessRunner) environ(b bench.Benchmark, snap *snapshot.Snapshot, benchDir, resultFile string, env *provision.Environment) []string {
	base := r.BaseEnv
	if base == nil {
		base = os.Environ()
	}

	vars := env.Apply(base)

	pythonPath := snap.Dir + string(os.PathListSeparator) + benchDir

	kept := vars[:0:0]

	for _, kv := range vars {
		key, value, _ := strings.Cut(kv, "=")
		if key == "PYTHONPATH" {
			if value != "" {
				pythonPath += string(os.PathListSeparator) + value
			}

			continue
		}

		kept = append(kept, kv)
	}

	return append(kept,
		"PYTHONPATH="+pythonPath,
		"PYTHONUNBUFFERED=1",
		EnvResultFile+"="+resultFile,
		EnvRevision+"="+snap.Revision.ID,
		EnvBenchmark+"="+b.Name,
		EnvSnapshot+"="+snap.Dir,
	)
}

func (r *ProcessRunner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}

	return DefaultTimeout
}

func (r *ProcessRunner) grace() time.Duration {
	if r.Grace > 0 {
		return r.Grace
	}

	return DefaultGrace
}

func (r *ProcessRunner) tailSize() int {
	if r.TailSize > 0 {
		return r.TailSize
	}

	return DefaultTailSize
}

func (r *ProcessRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}

	return slog.Default()
}

type syncWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	if s.w == nil {
		return len(p), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.w.Write(p)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
