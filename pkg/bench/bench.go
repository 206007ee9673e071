// Package bench discovers benchmark procedures and decides how to launch them.
package bench

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/src-d/enry/v2"
)

// Sentinel errors.
var (
	ErrNoBenchmarkDir = errors.New("benchmark directory not found")
	ErrDuplicateName  = errors.New("duplicate benchmark name")
)

// DefaultDirName is the benchmark directory inside a repository.
const DefaultDirName = "benchmarks"

// Launcher selects how a benchmark process is started.
type Launcher string

// Launchers.
const (
	// LauncherPython imports the file and calls its run() function.
	LauncherPython Launcher = "python"
	// LauncherExec executes the file, which writes its result itself.
	LauncherExec Launcher = "exec"
)

const sniffSize = 512

// Benchmark is a named, independently invocable procedure.
type Benchmark struct {
	// Name is the file stem, unique within the directory.
	Name string `json:"name"`
	// File is the file name relative to the benchmark directory.
	File     string   `json:"file"`
	Language string   `json:"language,omitempty"`
	Launcher Launcher `json:"launcher"`
}

// Discover enumerates benchmarks in dir, sorted by name. Hidden files,
// files starting with "_" and the directories listed in skip are ignored.
func Discover(dir string, skip ...string) ([]Benchmark, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoBenchmarkDir, dir)
		}

		return nil, fmt.Errorf("read benchmark dir: %w", err)
	}

	seen := make(map[string]string)

	var found []Benchmark

	for _, entry := range entries {
		name := entry.Name()

		if entry.IsDir() || ignored(name) || slices.Contains(skip, name) {
			continue
		}

		b, ok, detectErr := detect(dir, entry)
		if detectErr != nil {
			return nil, detectErr
		}

		if !ok {
			continue
		}

		if prev, dup := seen[b.Name]; dup {
			return nil, fmt.Errorf("%w: %q (%s, %s)", ErrDuplicateName, b.Name, prev, b.File)
		}

		seen[b.Name] = b.File
		found = append(found, b)
	}

	slices.SortFunc(found, func(a, b Benchmark) int {
		return strings.Compare(a.Name, b.Name)
	})

	return found, nil
}

func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

func detect(dir string, entry fs.DirEntry) (Benchmark, bool, error) {
	info, err := entry.Info()
	if err != nil {
		return Benchmark{}, false, fmt.Errorf("stat %s: %w", entry.Name(), err)
	}

	if !info.Mode().IsRegular() {
		return Benchmark{}, false, nil
	}

	file := entry.Name()
	stem := strings.TrimSuffix(file, filepath.Ext(file))

	head, err := sniff(filepath.Join(dir, file))
	if err != nil {
		return Benchmark{}, false, err
	}

	if enry.IsBinary(head) && info.Mode()&0o111 == 0 {
		return Benchmark{}, false, nil
	}

	lang := enry.GetLanguage(file, head)

	switch {
	case lang == "Python":
		return Benchmark{Name: stem, File: file, Language: lang, Launcher: LauncherPython}, true, nil
	case info.Mode()&0o111 != 0:
		return Benchmark{Name: stem, File: file, Language: lang, Launcher: LauncherExec}, true, nil
	default:
		return Benchmark{}, false, nil
	}
}

func sniff(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, sniffSize)

	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return buf[:n], nil
}

// Names returns the benchmark names in order.
func Names(benchmarks []Benchmark) []string {
	names := make([]string, 0, len(benchmarks))
	for _, b := range benchmarks {
		names = append(names, b.Name)
	}

	return names
}

// Select keeps the benchmarks named in want, in discovery order. An empty
// want selects everything. Requested names that were not discovered are
// returned separately.
func Select(all []Benchmark, want []string) (selected []Benchmark, unknown []string) {
	if len(want) == 0 {
		return slices.Clone(all), nil
	}

	known := make(map[string]bool, len(all))
	for _, b := range all {
		known[b.Name] = true
	}

	for _, name := range want {
		if !known[name] && !slices.Contains(unknown, name) {
			unknown = append(unknown, name)
		}
	}

	for _, b := range all {
		if slices.Contains(want, b.Name) {
			selected = append(selected, b)
		}
	}

	return selected, unknown
}
