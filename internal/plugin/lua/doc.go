// Package lua provides the Lua runtime that executes modules.
//
// Every loaded module gets its own State: a sandboxed gopher-lua VM that is
// discarded on unload. Closing a State is the whole of "unloading code", which
// is why modules are scripts and not native shared objects.
//
// # State
//
//	state, err := lua.NewState(lua.WithCallTimeout(5 * time.Second))
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
//	if err := state.DoFile("init.lua"); err != nil {
//	    return err
//	}
//	results, err := state.Call(ctx, "greet", "world")
//
// # Sandbox
//
// The sandbox removes dofile, loadfile, load and loadstring, clears
// package.path and package.cpath, and replaces require with a version that
// only serves the safe builtin libraries and modules linked through the host.
// The io, os and debug libraries are never opened.
//
// # Bridge
//
// The Bridge converts values between Go and Lua. Lua functions crossing a
// module boundary become Func values bound to the state that owns them, so
// calling one always runs on the owning VM under its lock.
//
// # Module API
//
// InstallModuleAPI adds the functions a module uses to cooperate with others:
//
//	export("greeter", greeter)         -- symbol visible to other modules
//	provide("services", { name = "x" }) -- resource, all providers are listed
//	local g = import("greeter")          -- nil when nobody exports it
//	local g = require("greeter")         -- like import, raises on a miss
//	for _, s in ipairs(resources("services")) do ... end
//	log.info("ready")
//
// A State must not be re-entered from a call it is already running: a module
// calling, through another module, a function it exported itself blocks on
// its own lock.
package lua
