package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hearth/internal/capability"
)

const tomlManifest = `
[app]
name = "notes"
version = "1.2.0"
entry = "app/main.lua"

[permissions]
fs.read = ["~/.notes/*"]
ipc = true

[permissions.net]
allow = ["api.example.com"]
deny = ["*"]

[permissions.ui]
window = true
dialog = ["open", "save"]

[limits]
max_processes = 2
requests_per_second = 5.5

[extensions]
disabled = ["clipboard"]
parallel_init = true
`

const yamlManifest = `
app:
  name: notes
permissions:
  fs.write: ["/tmp/**"]
  process:
    spawn:
      allow: ["/usr/bin/git"]
    env: ["HOME", "LANG"]
`

func TestParseTOML(t *testing.T) {
	m, err := Parse("hearth.toml", []byte(tomlManifest), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "notes", m.App.Name)
	assert.Equal(t, "1.2.0", m.App.Version)
	assert.Equal(t, "app/main.lua", m.App.Entry)
	assert.Equal(t, 2, m.Limits.MaxProcesses)
	assert.InDelta(t, 5.5, m.Limits.RequestsPerSecond, 0.001)
	assert.Equal(t, DefaultBridgeCapacity, m.Limits.BridgeCapacity)
	assert.True(t, m.Extensions.ParallelInit)
	assert.True(t, m.IsDisabled("clipboard"))
	assert.False(t, m.IsDisabled("fs"))

	assert.Equal(t, capability.RawPermissions{
		"fs.read":   {Allow: []string{"~/.notes/*"}},
		"ipc":       {Allow: []string{"**"}},
		"net":       {Allow: []string{"api.example.com"}, Deny: []string{"*"}},
		"ui.window": {Allow: []string{"**"}},
		"ui.dialog": {Allow: []string{"open", "save"}},
	}, m.Permissions)

	set, err := capability.Compile(m.Permissions, capability.WithHomeDir("/home/u"))
	require.NoError(t, err)
	assert.Equal(t, capability.Deny, set.Check(capability.ClassNetConnect, "api.example.com"))
	assert.Equal(t, capability.Allow, set.Check(capability.ClassFSRead, "~/.notes/today.md"))
}

func TestParseYAML(t *testing.T) {
	m, err := Parse("hearth.yaml", []byte(yamlManifest), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, DefaultEntry, m.App.Entry)
	assert.Equal(t, DefaultMaxProcesses, m.Limits.MaxProcesses)
	assert.Equal(t, capability.RawPermissions{
		"fs.write":      {Allow: []string{"/tmp/**"}},
		"process.spawn": {Allow: []string{"/usr/bin/git"}},
		"process.env":   {Allow: []string{"HOME", "LANG"}},
	}, m.Permissions)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"missing app name", "[app]\nentry = \"main.lua\"\n", FormatTOML},
		{"bad version", "[app]\nname = \"x\"\nversion = \"one\"\n", FormatTOML},
		{"unknown field", "[app]\nname = \"x\"\ncolour = \"red\"\n", FormatTOML},
		{"syntax", "[app\nname = \"x\"\n", FormatTOML},
		{"negative limit", "app:\n  name: x\nlimits:\n  max_processes: -1\n", FormatYAML},
		{"bad permission value", "[app]\nname = \"x\"\n[permissions]\nfs.read = 3\n", FormatTOML},
		{"bad list item", "[app]\nname = \"x\"\n[permissions]\nfs.read = [1]\n", FormatTOML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test", []byte(tt.data), tt.format)
			var me *Error
			require.ErrorAs(t, err, &me)
			assert.Equal(t, "test", me.Path)
		})
	}
}

func TestValidationErrorUnwraps(t *testing.T) {
	_, err := Parse("test", []byte("[app]\nentry = \"main.lua\"\n"), FormatTOML)
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "Name", verrs[0].Field())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hearth.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlManifest), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, m.Dir)
	assert.Equal(t, filepath.Join(dir, "app", "main.lua"), m.EntryPath())

	_, err = Load(filepath.Join(dir, "hearth.json"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("a/b.YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	assert.Equal(t, "yaml", f.String())

	f, err = FormatFromPath("hearth.toml")
	require.NoError(t, err)
	assert.Equal(t, "toml", f.String())
}
