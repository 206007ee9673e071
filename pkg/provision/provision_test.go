package provision_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchtrail/pkg/provision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

var errPipFailed = errors.New("exit status 1")

type call struct {
	dir  string
	env  []string
	name string
	args []string
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	fail  func(c call) bool
}

func (r *recorder) run(_ context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := call{dir: dir, env: env, name: name, args: args}
	r.calls = append(r.calls, c)

	if r.fail != nil && r.fail(c) {
		return []byte("ERROR: could not install"), errPipFailed
	}

	return []byte("ok"), nil
}

func testSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()

	return &snapshot.Snapshot{
		Revision: revision.Revision{ID: "abc123"},
		Dir:      t.TempDir(),
	}
}

func TestVenvProvisioner_Provision(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p := &provision.VenvProvisioner{Python: "python3.12", BaseEnv: []string{"HOME=/tmp"}, Command: rec.run}
	snap := testSnapshot(t)

	env, err := p.Provision(context.Background(), snap)
	require.NoError(t, err)

	require.Len(t, rec.calls, 1)
	assert.Equal(t, "python3.12", rec.calls[0].name)
	assert.Equal(t, []string{"-m", "venv", filepath.Join(snap.Dir, ".venv")}, rec.calls[0].args)

	assert.Equal(t, "abc123", env.Revision)
	assert.Equal(t, snap.Dir, env.Root)
	assert.Equal(t, filepath.Join(snap.Dir, ".venv"), env.Dir)
	assert.Equal(t, filepath.Join(env.Dir, "bin"), env.BinDir)
	assert.Equal(t, env.Dir, env.Vars["VIRTUAL_ENV"])
}

func TestVenvProvisioner_ProvisionFailure(t *testing.T) {
	t.Parallel()

	rec := &recorder{fail: func(call) bool { return true }}
	p := &provision.VenvProvisioner{BaseEnv: []string{}, Command: rec.run}

	env, err := p.Provision(context.Background(), testSnapshot(t))
	require.Nil(t, env)

	var provErr *provision.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "venv", provErr.Stage)
	assert.Equal(t, "abc123", provErr.Revision)
	assert.Contains(t, provErr.Output, "could not install")
	assert.Equal(t, "python3", rec.calls[0].name)
}

func TestVenvProvisioner_CommandTimeout(t *testing.T) {
	t.Parallel()

	hang := func(ctx context.Context, _ string, _ []string, _ string, _ ...string) ([]byte, error) {
		_, hasDeadline := ctx.Deadline()
		if !hasDeadline {
			return nil, errPipFailed
		}

		<-ctx.Done()

		return []byte("Collecting numpy"), ctx.Err()
	}

	p := &provision.VenvProvisioner{BaseEnv: []string{}, Command: hang, Timeout: 20 * time.Millisecond}

	env, err := p.Provision(context.Background(), testSnapshot(t))
	require.Nil(t, env)
	require.ErrorIs(t, err, provision.ErrCommandTimeout)

	var provErr *provision.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "venv", provErr.Stage)
	assert.Equal(t, "Collecting numpy", provErr.Output)
}

func TestVenvProvisioner_ParentCancelIsNotTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &provision.VenvProvisioner{
		BaseEnv: []string{},
		Command: func(ctx context.Context, _ string, _ []string, _ string, _ ...string) ([]byte, error) {
			return nil, ctx.Err()
		},
	}

	_, err := p.Provision(ctx, testSnapshot(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, provision.ErrCommandTimeout)
}

func TestVenvProvisioner_Install(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p := &provision.VenvProvisioner{BaseEnv: []string{"PATH=/usr/bin", "HOME=/root"}, Command: rec.run}
	snap := testSnapshot(t)

	require.NoError(t, os.WriteFile(filepath.Join(snap.Dir, "requirements.txt"), []byte("numpy\n"), 0o600))

	env, err := p.Provision(context.Background(), snap)
	require.NoError(t, err)

	report, err := p.Install(context.Background(), env,
		provision.SnapshotSource(),
		provision.PackagesSource("numpy==1.26.4"),
		provision.PackagesSource(),
		provision.RequirementsSource("requirements.txt"),
		provision.RequirementsSource("missing.txt"),
	)
	require.NoError(t, err)
	require.Len(t, report.Steps, 3)
	assert.Empty(t, report.Failed())

	installs := rec.calls[1:]
	require.Len(t, installs, 3)

	assert.Equal(t, env.Python, installs[0].name)
	assert.Equal(t, []string{"-m", "pip", "install", "-U", snap.Dir}, installs[0].args)
	assert.Equal(t, []string{"-m", "pip", "install", "-U", "numpy==1.26.4"}, installs[1].args)
	assert.Equal(t, []string{"-m", "pip", "install", "-U", "-r", filepath.Join(snap.Dir, "requirements.txt")}, installs[2].args)

	assert.Contains(t, installs[0].env, "PATH="+env.BinDir+string(os.PathListSeparator)+"/usr/bin")
	assert.Contains(t, installs[0].env, "HOME=/root")
	assert.Contains(t, installs[0].env, "VIRTUAL_ENV="+env.Dir)
}

func TestVenvProvisioner_InstallFailureIsReportedNotFatal(t *testing.T) {
	t.Parallel()

	rec := &recorder{fail: func(c call) bool {
		return strings.Contains(strings.Join(c.args, " "), "broken-pkg")
	}}
	p := &provision.VenvProvisioner{BaseEnv: []string{}, Command: rec.run}

	env, err := p.Provision(context.Background(), testSnapshot(t))
	require.NoError(t, err)

	report, err := p.Install(context.Background(), env,
		provision.PackagesSource("broken-pkg"),
		provision.SnapshotSource(),
	)

	var provErr *provision.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "install", provErr.Stage)
	assert.Contains(t, provErr.Error(), "dependencies")

	require.Len(t, report.Steps, 2, "later sources are still attempted")
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "dependencies", report.Failed()[0].Source)
}

func TestVenvProvisioner_InstallWithoutEnvironment(t *testing.T) {
	t.Parallel()

	p := &provision.VenvProvisioner{}

	_, err := p.Install(context.Background(), nil, provision.SnapshotSource())
	require.ErrorIs(t, err, provision.ErrNoEnvironment)
}

func TestEnvironmentApply(t *testing.T) {
	t.Parallel()

	var nilEnv *provision.Environment

	base := []string{"A=1", "PATH=/bin"}
	assert.Equal(t, base, nilEnv.Apply(base))

	env := &provision.Environment{BinDir: "/venv/bin", Vars: map[string]string{"A": "2"}}
	out := env.Apply(base)

	assert.Contains(t, out, "A=2")
	assert.NotContains(t, out, "A=1")
	assert.Contains(t, out, "PATH=/venv/bin"+string(os.PathListSeparator)+"/bin")
	assert.Equal(t, []string{"A=1", "PATH=/bin"}, base, "base is not mutated")

	assert.Contains(t, env.Apply(nil), "PATH=/venv/bin")
}

func TestNop(t *testing.T) {
	t.Parallel()

	env, err := provision.Nop{}.Provision(context.Background(), testSnapshot(t))
	require.NoError(t, err)
	assert.Nil(t, env)

	report, err := provision.Nop{}.Install(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Steps)
}

func TestVenvProvisioner_RealPython(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	p := &provision.VenvProvisioner{}
	snap := testSnapshot(t)

	env, err := p.Provision(context.Background(), snap)
	if err != nil {
		t.Skipf("venv module unavailable: %v", err)
	}

	assert.FileExists(t, env.Python)
}
