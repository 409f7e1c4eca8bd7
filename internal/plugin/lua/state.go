package lua

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Defaults applied by NewState.
const (
	DefaultCallTimeout   = 5 * time.Second
	DefaultCallStackSize = 256
	DefaultRegistrySize  = 1024 * 20
)

// State wraps a gopher-lua VM with sandboxing, locking and value conversion.
//
// gopher-lua's LState is not goroutine-safe. Every method that touches the VM
// takes the state's mutex, so a State may be used from several goroutines,
// but only one call runs at a time.
type State struct {
	L *lua.LState

	mu sync.Mutex

	callTimeout   time.Duration
	callStackSize int
	registrySize  int

	sandbox *Sandbox
	bridge  *Bridge

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithCallTimeout bounds every DoFile, DoString and Call. Zero disables the bound.
func WithCallTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.callTimeout = d
	}
}

// WithCallStackSize sets the VM call stack size.
func WithCallStackSize(n int) StateOption {
	return func(s *State) {
		if n > 0 {
			s.callStackSize = n
		}
	}
}

// WithRegistrySize sets the VM registry size.
func WithRegistrySize(n int) StateOption {
	return func(s *State) {
		if n > 0 {
			s.registrySize = n
		}
	}
}

// NewState opens a sandboxed Lua VM with the safe libraries loaded.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		callTimeout:   DefaultCallTimeout,
		callStackSize: DefaultCallStackSize,
		registrySize:  DefaultRegistrySize,
	}

	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: state.callStackSize,
		RegistrySize:  state.registrySize,
	})
	state.L = L

	openSafeLibraries(L)

	state.sandbox = NewSandbox(L)
	state.sandbox.Install()
	state.bridge = NewBridge(L, state.proxy)

	return state, nil
}

// openSafeLibraries loads the libraries module code may use.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenCoroutine(L)

	// io, os and debug are never opened.
}

// DoFile runs the chunk at path.
func (s *State) DoFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	return s.run(ctx, func() error {
		return s.L.DoFile(path)
	})
}

// DoString executes a Lua chunk.
func (s *State) DoString(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	return s.run(ctx, func() error {
		return s.L.DoString(code)
	})
}

// HasFunction reports whether the named global is a function.
func (s *State) HasFunction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// Call invokes the global function fn with converted args. A function
// without results yields an empty, non-nil slice.
func (s *State) Call(ctx context.Context, fn string, args ...any) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal == lua.LNil {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, fn)
	}
	f, ok := fnVal.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFunction, fn, fnVal.Type())
	}

	return s.callLocked(ctx, f, args)
}

// CallFunction calls a function value owned by this state.
func (s *State) CallFunction(ctx context.Context, fn *lua.LFunction, args ...any) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	return s.callLocked(ctx, fn, args)
}

// callLocked pushes fn and args, calls it and collects every result.
// The caller holds mu.
func (s *State) callLocked(ctx context.Context, fn *lua.LFunction, args []any) ([]any, error) {
	var results []any
	err := s.run(ctx, func() error {
		stackTop := s.L.GetTop()

		s.L.Push(fn)
		for _, arg := range args {
			s.L.Push(s.bridge.ToLuaValue(arg))
		}

		if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
			return err
		}

		nRet := s.L.GetTop() - stackTop
		results = make([]any, 0, nRet)
		for i := 0; i < nRet; i++ {
			results = append(results, s.bridge.ToGoValue(s.L.Get(stackTop+i+1)))
		}
		if nRet > 0 {
			s.L.Pop(nRet)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// run executes fn with the call timeout installed as the VM context and
// converts panics into errors. Must be called with mu held.
func (s *State) run(ctx context.Context, fn func() error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	// A nested run (a Go function called back from Lua) keeps the outer context.
	if s.L.Context() == nil {
		if s.callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
			defer cancel()
		}
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// proxy binds a function owned by this state to a Func usable from anywhere.
func (s *State) proxy(fn *lua.LFunction) Func {
	return func(ctx context.Context, args ...any) ([]any, error) {
		return s.CallFunction(ctx, fn, args...)
	}
}

// GetGlobal returns a global variable converted to Go.
func (s *State) GetGlobal(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return s.bridge.ToGoValue(s.L.GetGlobal(name))
}

// SetGlobal sets a global variable from a Go value.
func (s *State) SetGlobal(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, s.bridge.ToLuaValue(value))
}

// RegisterFunc binds fn to the global name.
func (s *State) RegisterFunc(name string, fn lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, s.L.NewFunction(fn))
}

// RegisterModule registers a global table holding the given functions.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, s.L.SetFuncs(s.L.NewTable(), funcs))
}

// LuaState exposes the VM. Callers must not use it concurrently with the State.
//
// WARNING: Direct access bypasses the mutex. The caller is responsible for
// ensuring no other call runs concurrently.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// Bridge returns the state's value converter. It must only be used while
// the state is executing, from inside a Lua callback.
func (s *State) Bridge() *Bridge {
	return s.bridge
}

// Sandbox returns the sandbox installed in the state.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed reports whether Close has run.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the VM. After Close, every other method returns
// ErrStateClosed or a zero value, including calls through exported Funcs.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.L.Close()
	s.closed = true
	return nil
}
