package bench_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
)

func write(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	write(t, filepath.Join(dir, "speed.py"), "def run():\n    return 1\n", 0o644)
	write(t, filepath.Join(dir, "accuracy.py"), "def run():\n    return 0.9\n", 0o644)
	write(t, filepath.Join(dir, "memory"), "#!/bin/sh\necho '{}' > \"$BENCHTRAIL_RESULT_FILE\"\n", 0o755)
	write(t, filepath.Join(dir, "latency"), "#!/usr/bin/env python3\ndef run():\n    return 3\n", 0o644)
	write(t, filepath.Join(dir, "_helpers.py"), "X = 1\n", 0o644)
	write(t, filepath.Join(dir, ".hidden.py"), "X = 1\n", 0o644)
	write(t, filepath.Join(dir, "README.md"), "# benchmarks\n", 0o644)
	write(t, filepath.Join(dir, "__benchmark_data__", "x.json"), "{}", 0o644)
	write(t, filepath.Join(dir, "nested", "deep.py"), "def run(): pass\n", 0o644)

	found, err := bench.Discover(dir, "__benchmark_data__")
	require.NoError(t, err)

	assert.Equal(t, []string{"accuracy", "latency", "memory", "speed"}, bench.Names(found))

	byName := map[string]bench.Benchmark{}
	for _, b := range found {
		byName[b.Name] = b
	}

	assert.Equal(t, bench.LauncherPython, byName["speed"].Launcher)
	assert.Equal(t, "speed.py", byName["speed"].File)
	assert.Equal(t, bench.LauncherPython, byName["latency"].Launcher)
	assert.Equal(t, bench.LauncherExec, byName["memory"].Launcher)
}

func TestDiscover_MissingDir(t *testing.T) {
	t.Parallel()

	_, err := bench.Discover(filepath.Join(t.TempDir(), "nope"))
	require.ErrorIs(t, err, bench.ErrNoBenchmarkDir)
}

func TestDiscover_DuplicateStem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "speed.py"), "def run(): return 1\n", 0o644)
	write(t, filepath.Join(dir, "speed.sh"), "#!/bin/sh\n", 0o755)

	_, err := bench.Discover(dir)
	require.ErrorIs(t, err, bench.ErrDuplicateName)
}

func TestSelect(t *testing.T) {
	t.Parallel()

	all := []bench.Benchmark{{Name: "accuracy"}, {Name: "speed"}}

	selected, unknown := bench.Select(all, nil)
	assert.Equal(t, []string{"accuracy", "speed"}, bench.Names(selected))
	assert.Empty(t, unknown)

	selected, unknown = bench.Select(all, []string{"speed", "bogus", "bogus"})
	assert.Equal(t, []string{"speed"}, bench.Names(selected))
	assert.Equal(t, []string{"bogus"}, unknown)

	selected, unknown = bench.Select(all, []string{"bogus"})
	assert.Empty(t, selected)
	assert.Equal(t, []string{"bogus"}, unknown)
}

func TestStage(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	write(t, filepath.Join(src, "speed.py"), "NEW", 0o644)
	write(t, filepath.Join(src, "lib", "util.py"), "UTIL", 0o644)
	write(t, filepath.Join(src, "__benchmark_data__", "abc_speed.json"), "{}", 0o644)
	write(t, filepath.Join(src, "__pycache__", "speed.pyc"), "x", 0o644)
	write(t, filepath.Join(dst, "speed.py"), "OLD", 0o644)
	write(t, filepath.Join(dst, "legacy.py"), "KEEP", 0o644)

	require.NoError(t, bench.Stage(src, dst, "__benchmark_data__"))

	data, err := os.ReadFile(filepath.Join(dst, "speed.py"))
	require.NoError(t, err)
	assert.Equal(t, "NEW", string(data))

	assert.FileExists(t, filepath.Join(dst, "lib", "util.py"))
	assert.FileExists(t, filepath.Join(dst, "legacy.py"))
	assert.NoDirExists(t, filepath.Join(dst, "__benchmark_data__"))
	assert.NoDirExists(t, filepath.Join(dst, "__pycache__"))

	srcData, err := os.ReadFile(filepath.Join(src, "speed.py"))
	require.NoError(t, err)
	assert.Equal(t, "NEW", string(srcData))
}

func TestValidSource(t *testing.T) {
	t.Parallel()

	assert.True(t, bench.ValidSource(bench.SourceLatest))
	assert.True(t, bench.ValidSource(bench.SourceRevision))
	assert.False(t, bench.ValidSource("head"))
}
