package lua

import (
	"strings"

	"github.com/charmbracelet/log"
	lua "github.com/yuin/gopher-lua"
)

// Linker resolves names exported by other modules.
type Linker interface {
	// Delegate returns the first other module's symbol called name.
	Delegate(name string) (any, bool)

	// DelegateAll returns every other module's resources called name.
	DelegateAll(name string) []any
}

// ModuleInfo describes the module a state runs.
type ModuleInfo struct {
	ID      string
	Version string
}

// InstallModuleAPI installs export, provide, import, require, resources and
// the module and log globals into the state.
//
// Own symbols are always served from exports as raw Lua values. Everything
// else goes through linker and is converted into this state on the way in.
func InstallModuleAPI(s *State, info ModuleInfo, exports *Exports, linker Linker, logger *log.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	L := s.L
	b := s.bridge

	lookup := func(name string) (lua.LValue, bool) {
		if raw, ok := exports.LocalSymbol(name); ok {
			return raw, true
		}
		if linker == nil {
			return lua.LNil, false
		}
		v, ok := linker.Delegate(name)
		if !ok {
			return lua.LNil, false
		}
		return b.ToLuaValue(v), true
	}

	L.SetGlobal("export", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		v := L.CheckAny(2)
		exports.SetSymbol(name, v, b.ToGoValue(v))
		return 0
	}))

	L.SetGlobal("provide", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		v := L.CheckAny(2)
		exports.AddResource(name, v, b.ToGoValue(v))
		return 0
	}))

	L.SetGlobal("import", L.NewFunction(func(L *lua.LState) int {
		v, _ := lookup(L.CheckString(1))
		L.Push(v)
		return 1
	}))

	L.SetGlobal("resources", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		t := L.NewTable()
		for _, raw := range exports.LocalResources(name) {
			t.Append(raw)
		}
		if linker != nil {
			for _, v := range linker.DelegateAll(name) {
				t.Append(b.ToLuaValue(v))
			}
		}
		L.Push(t)
		return 1
	}))

	s.sandbox.SetFallback(func(_ *lua.LState, name string) (lua.LValue, bool) {
		return lookup(name)
	})

	mod := L.NewTable()
	mod.RawSetString("id", lua.LString(info.ID))
	mod.RawSetString("version", lua.LString(info.Version))
	L.SetGlobal("module", mod)

	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("module", info.ID)
	logFn := func(emit func(msg any, keyvals ...any)) lua.LGFunction {
		return func(L *lua.LState) int {
			emit(logMessage(L))
			return 0
		}
	}
	L.SetGlobal("log", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"debug": logFn(logger.Debug),
		"info":  logFn(logger.Info),
		"warn":  logFn(logger.Warn),
		"error": logFn(logger.Error),
	}))
}

// logMessage joins the call arguments the way print does.
func logMessage(L *lua.LState) string {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	return strings.Join(parts, " ")
}
