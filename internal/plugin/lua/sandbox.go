package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// Fallback serves require for names that are not safe builtin libraries.
// It returns false when the name is unknown.
type Fallback func(L *lua.LState, name string) (lua.LValue, bool)

// Sandbox removes file and code loading from a state and replaces require.
type Sandbox struct {
	L *lua.LState

	fallback Fallback
}

// safeModules are the builtin libraries require may return.
var safeModules = map[string]bool{
	"string":    true,
	"table":     true,
	"math":      true,
	"coroutine": true,
	"bit32":     true,
	"utf8":      true,
}

// NewSandbox creates a Sandbox for L. Install applies it.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{L: L}
}

// Install removes the loaders and installs the restricted require.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafeRequire()
}

// SetFallback sets the resolver used by require for non-builtin names.
func (s *Sandbox) SetFallback(fn Fallback) {
	s.fallback = fn
}

// installSafeRequire replaces require with a version that never touches disk.
//
// package.path and package.cpath are cleared and package.loaded is reduced to
// the safe builtins. Anything else goes through the fallback, which the module
// API points at cross-module resolution.
func (s *Sandbox) installSafeRequire() {
	pkg, ok := s.L.GetGlobal("package").(*lua.LTable)
	if ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))

		if loaded, ok := s.L.GetField(pkg, "loaded").(*lua.LTable); ok {
			var keysToRemove []string
			loaded.ForEach(func(k, _ lua.LValue) {
				ks, ok := k.(lua.LString)
				if !ok {
					return
				}
				if name := string(ks); name != "_G" && name != "package" && !safeModules[name] {
					keysToRemove = append(keysToRemove, name)
				}
			})
			for _, key := range keysToRemove {
				loaded.RawSetString(key, lua.LNil)
			}
		}
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)

		if safeModules[name] {
			L.Push(originalRequire)
			L.Push(lua.LString(name))
			L.Call(1, 1)
			return 1
		}

		if s.fallback != nil {
			if v, ok := s.fallback(L, name); ok {
				L.Push(v)
				return 1
			}
		}

		// L.RaiseError does a longjmp, so code after it is unreachable.
		L.RaiseError("module %q is not available", name)
		return 0
	}))
}
