package ext

import (
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hearth/internal/capability"
)

func processHarness(t *testing.T) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
	return newHarness(t, processDescriptor(), capability.RawPermissions{
		"process.spawn": {Allow: []string{"/**"}, Deny: []string{"**/rm"}},
		"process.env":   {Allow: []string{"HEARTH_TEST_VAR", "HEARTH_TEST_UNSET", "GREETING"}},
		"fs.read":       {Allow: []string{"~/**"}},
	})
}

func TestProcessSpawn(t *testing.T) {
	h := processHarness(t)

	v, err := h.call("spawn", "sh", []any{"-c", "echo out; echo err >&2; exit 3"})
	require.NoError(t, err)
	res := v.(map[string]any)
	assert.Equal(t, int64(3), res["code"])
	assert.Equal(t, "out\n", res["stdout"])
	assert.Equal(t, "err\n", res["stderr"])

	v, err = h.call("spawn", "sh", []any{"-c", `printf %s "$GREETING"; cat`}, map[string]any{
		"env":   map[string]any{"GREETING": "hi "},
		"stdin": "there",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", v.(map[string]any)["stdout"])

	v, err = h.call("spawn", "sh", []any{"-c", "pwd"}, map[string]any{"cwd": "."})
	require.NoError(t, err)
	assert.Contains(t, v.(map[string]any)["stdout"], h.dir)
}

func TestProcessSpawnChecks(t *testing.T) {
	h := processHarness(t)
	if _, err := exec.LookPath("rm"); err != nil {
		t.Skip("rm not found")
	}

	_, err := h.call("spawn", "rm", []any{"-rf", h.dir})
	assert.ErrorIs(t, err, capability.ErrDenied)

	_, err = h.call("spawn", "definitely-not-a-command-hearth", []any{})
	assert.ErrorIs(t, err, capability.ErrDenied, "unresolved names are relative subjects")

	_, err = h.call("spawn", "sh", "not a list")
	assert.Error(t, err)

	_, err = h.call("spawn", "sh", []any{"-c", "true"}, map[string]any{
		"env": map[string]any{"LD_PRELOAD": "/tmp/evil.so"},
	})
	assert.ErrorIs(t, err, capability.ErrDenied, "env names are gated by process.env")

	_, err = h.call("spawn", "sh", []any{"-c", "true"}, map[string]any{
		"env": map[string]any{"GREETING": "hi", "PATH": "/tmp"},
	})
	assert.ErrorIs(t, err, capability.ErrDenied, "one denied name rejects the call")

	_, err = h.call("spawn", "sh", []any{"-c", "true"}, map[string]any{
		"env": map[string]any{"A=B": "x"},
	})
	assert.ErrorContains(t, err, "invalid env name")

	_, err = h.call("spawn", "sh", []any{"-c", "pwd"}, map[string]any{"cwd": "/"})
	assert.ErrorIs(t, err, capability.ErrDenied, "cwd is gated by fs.read")
}

func TestProcessTimeout(t *testing.T) {
	h := processHarness(t)
	v, err := h.call("spawn", "sh", []any{"-c", "exec sleep 5"}, map[string]any{"timeout_ms": int64(50)})
	require.NoError(t, err, "a killed child still reports an exit code")
	assert.NotEqual(t, int64(0), v.(map[string]any)["code"])
}

func TestProcessEnv(t *testing.T) {
	h := processHarness(t)
	t.Setenv("HEARTH_TEST_VAR", "value")

	v, err := h.call("env", "HEARTH_TEST_VAR")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = h.call("env", "HEARTH_TEST_UNSET")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = h.call("env", "PATH")
	assert.ErrorIs(t, err, capability.ErrDenied)
}
