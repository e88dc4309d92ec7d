// Package manifest loads the application manifest: app metadata, the
// permission declaration, resource limits and extension settings.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/hearth/internal/capability"
)

// Defaults applied when the manifest leaves a field unset.
const (
	DefaultEntry          = "main.lua"
	DefaultBridgeCapacity = 256
	DefaultMaxProcesses   = 4
	DefaultWasmPages      = 256
)

// validate is shared; building a validator is expensive.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Format identifies the manifest encoding.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// String returns the format name.
func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "toml"
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("manifest %s: unsupported extension", path)
	}
}

// Manifest is a parsed and validated application manifest.
type Manifest struct {
	App        App            `toml:"app" yaml:"app" validate:"required"`
	Limits     Limits         `toml:"limits" yaml:"limits"`
	Extensions Extensions     `toml:"extensions" yaml:"extensions"`
	RawPerms   map[string]any `toml:"permissions" yaml:"permissions"`

	// Permissions is RawPerms flattened into per-class rules.
	Permissions capability.RawPermissions `toml:"-" yaml:"-"`

	// Dir is the directory relative paths resolve against.
	Dir string `toml:"-" yaml:"-"`
}

// App holds application identity.
type App struct {
	Name       string `toml:"name" yaml:"name" validate:"required,max=64"`
	Version    string `toml:"version" yaml:"version" validate:"omitempty,semver"`
	Identifier string `toml:"identifier" yaml:"identifier" validate:"omitempty,max=128"`
	Entry      string `toml:"entry" yaml:"entry" validate:"required"`
}

// Limits bounds resource usage of the running app.
type Limits struct {
	// MaxProcesses caps concurrently running child processes.
	MaxProcesses int `toml:"max_processes" yaml:"max_processes" validate:"gte=0,lte=1024"`

	// RequestsPerSecond throttles outbound network requests. Zero disables.
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`

	// ExecutionTimeoutMS bounds a single script slice between yields.
	ExecutionTimeoutMS int `toml:"execution_timeout_ms" yaml:"execution_timeout_ms" validate:"gte=0"`

	// BridgeCapacity sizes the command and event channels.
	BridgeCapacity int `toml:"bridge_capacity" yaml:"bridge_capacity" validate:"gte=0,lte=65536"`

	// WasmMemoryPages caps WebAssembly linear memory in 64KiB pages.
	WasmMemoryPages uint32 `toml:"wasm_memory_pages" yaml:"wasm_memory_pages" validate:"lte=65536"`
}

// Extensions configures the compiled-in extension set.
type Extensions struct {
	// Disabled names optional extensions that must not be initialized.
	Disabled []string `toml:"disabled" yaml:"disabled" validate:"dive,required"`

	// ParallelInit initializes extensions of the same tier concurrently.
	ParallelInit bool `toml:"parallel_init" yaml:"parallel_init"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	m, err := Parse(path, data, format)
	if err != nil {
		return nil, err
	}
	m.Dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes and validates manifest data. source names the data in
// errors.
func Parse(source string, data []byte, format Format) (*Manifest, error) {
	var m Manifest
	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&m)
	default:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&m)
	}
	if err != nil {
		return nil, &Error{Path: source, Message: err.Error(), Err: err}
	}

	m.applyDefaults()

	if err := validate.Struct(&m); err != nil {
		return nil, &Error{Path: source, Message: "validation failed: " + err.Error(), Err: err}
	}

	perms, err := Flatten(m.RawPerms)
	if err != nil {
		return nil, &Error{Path: source, Message: err.Error(), Err: err}
	}
	m.Permissions = perms
	m.Dir = "."
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.App.Entry == "" {
		m.App.Entry = DefaultEntry
	}
	if m.Limits.BridgeCapacity == 0 {
		m.Limits.BridgeCapacity = DefaultBridgeCapacity
	}
	if m.Limits.MaxProcesses == 0 {
		m.Limits.MaxProcesses = DefaultMaxProcesses
	}
	if m.Limits.WasmMemoryPages == 0 {
		m.Limits.WasmMemoryPages = DefaultWasmPages
	}
}

// EntryPath returns the entry script resolved against the manifest
// directory.
func (m *Manifest) EntryPath() string {
	if filepath.IsAbs(m.App.Entry) {
		return m.App.Entry
	}
	return filepath.Join(m.Dir, m.App.Entry)
}

// IsDisabled reports whether the named extension is disabled.
func (m *Manifest) IsDisabled(name string) bool {
	for _, d := range m.Extensions.Disabled {
		if d == name {
			return true
		}
	}
	return false
}

// Flatten turns the nested permission table into per-class rules.
//
// Accepted forms under a class key:
//
//	fs.read = ["~/.app/*"]                      # allow list
//	[permissions.net]
//	allow = ["api.example.com"]
//	deny = ["*"]
//	[permissions.ui]
//	window = true                               # allow everything
//	dialog = "open"                             # single allow pattern
func Flatten(raw map[string]any) (capability.RawPermissions, error) {
	out := make(capability.RawPermissions)
	keys := sortedKeys(raw)
	for _, k := range keys {
		if err := flatten(k, raw[k], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flatten(class string, v any, out capability.RawPermissions) error {
	switch val := v.(type) {
	case bool:
		rule := out[class]
		if val {
			rule.Allow = append(rule.Allow, capability.WildcardMulti)
		}
		out[class] = rule
		return nil
	case string:
		rule := out[class]
		rule.Allow = append(rule.Allow, val)
		out[class] = rule
		return nil
	case []any:
		list, err := stringList(class, val)
		if err != nil {
			return err
		}
		rule := out[class]
		rule.Allow = append(rule.Allow, list...)
		out[class] = rule
		return nil
	case map[string]any:
		for _, k := range sortedKeys(val) {
			child := val[k]
			switch k {
			case "allow", "deny":
				list, err := toStrings(class+"."+k, child)
				if err != nil {
					return err
				}
				rule := out[class]
				if k == "allow" {
					rule.Allow = append(rule.Allow, list...)
				} else {
					rule.Deny = append(rule.Deny, list...)
				}
				out[class] = rule
			default:
				if err := flatten(class+"."+k, child, out); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("permissions.%s: unsupported value of type %T", class, v)
	}
}

func toStrings(key string, v any) ([]string, error) {
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []any:
		return stringList(key, val)
	default:
		return nil, fmt.Errorf("permissions.%s: expected string or list, got %T", key, v)
	}
}

func stringList(key string, list []any) ([]string, error) {
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("permissions.%s[%d]: expected string, got %T", key, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
