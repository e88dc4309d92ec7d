package script

import (
	"log/slog"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts a Lua state to safe operations.
type Sandbox struct {
	L      *lua.LState
	logger *slog.Logger
}

// NewSandbox creates a sandbox for L.
func NewSandbox(L *lua.LState, logger *slog.Logger) *Sandbox {
	return &Sandbox{L: L, logger: logger}
}

// Install removes unsafe globals, routes print to the logger and replaces
// require with a version that only loads preloaded and built-in modules.
func (s *Sandbox) Install() {
	for _, name := range []string{
		"dofile",
		"loadfile",
		"load",
		"loadstring",
		"module",
		"newproxy",
		"_printregs",
		"collectgarbage",
	} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installPrint()
	s.installSafeRequire()
}

func (s *Sandbox) installPrint() {
	logger := s.logger
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		logger.Info(strings.Join(parts, "\t"), "source", "print")
		return 0
	}))
}

// installSafeRequire clears the search paths and whitelists modules.
func (s *Sandbox) installSafeRequire() {
	pkg, ok := s.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	s.L.SetField(pkg, "path", lua.LString(""))
	s.L.SetField(pkg, "cpath", lua.LString(""))

	builtin := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}
	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)

		if !builtin[name] && !isPreloaded(L, pkg, name) {
			L.RaiseError("module %q is not available", name)
			return 0
		}

		L.Push(originalRequire)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

func isPreloaded(L *lua.LState, pkg *lua.LTable, name string) bool {
	preload, ok := L.GetField(pkg, "preload").(*lua.LTable)
	if !ok {
		return false
	}
	_, ok = preload.RawGetString(name).(*lua.LFunction)
	return ok
}

// Preload registers a module loader reachable through require.
func (s *Sandbox) Preload(name string, loader lua.LGFunction) {
	s.L.PreloadModule(name, loader)
}
