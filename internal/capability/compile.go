package capability

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RawRule is the declared allow and deny lists of one class.
type RawRule struct {
	Allow []string `toml:"allow" yaml:"allow"`
	Deny  []string `toml:"deny" yaml:"deny"`
}

// RawPermissions maps class names (or aliases) to their rules.
type RawPermissions map[string]RawRule

// Option configures Compile.
type Option func(*compileOptions)

type compileOptions struct {
	home    string
	homeSet bool
}

// WithHomeDir overrides the home directory used for "~" expansion.
func WithHomeDir(dir string) Option {
	return func(o *compileOptions) {
		o.home = dir
		o.homeSet = true
	}
}

// Compile turns raw permissions into a Set. Unknown classes and malformed
// patterns yield a *CompileError.
func Compile(raw RawPermissions, opts ...Option) (*Set, error) {
	var o compileOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.homeSet {
		o.home, _ = os.UserHomeDir()
	}
	home := cleanHome(o.home)

	merged := make(map[Class]RawRule, len(raw))
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		info, ok := Lookup(name)
		if !ok {
			return nil, &CompileError{Class: name, Message: "unknown resource class"}
		}
		r := merged[info.Class]
		r.Allow = append(r.Allow, raw[name].Allow...)
		r.Deny = append(r.Deny, raw[name].Deny...)
		merged[info.Class] = r
	}

	set := &Set{home: home, adapters: make(map[Class]*Adapter, len(classRegistry))}
	for _, class := range AllClasses() {
		set.adapters[class] = &Adapter{info: class.Info(), home: home}
	}
	for _, class := range AllClasses() {
		rule, ok := merged[class]
		if !ok {
			continue
		}
		a := set.adapters[class]
		for _, p := range rule.Allow {
			cp, err := compilePattern(a.info, home, p)
			if err != nil {
				return nil, err
			}
			a.allow = append(a.allow, cp)
		}
		for _, p := range rule.Deny {
			cp, err := compilePattern(a.info, home, p)
			if err != nil {
				return nil, err
			}
			a.deny = append(a.deny, cp)
		}
	}
	return set, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// static tables.
func MustCompile(raw RawPermissions, opts ...Option) *Set {
	s, err := Compile(raw, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func cleanHome(home string) string {
	if home == "" {
		return ""
	}
	home = norm.NFC.String(filepath.ToSlash(filepath.Clean(home)))
	if home != "/" {
		home = strings.TrimSuffix(home, "/")
	}
	return home
}
