// Package plugin hosts dynamically loaded modules.
//
// A module is described by a manifest and loaded from a source, usually a
// directory of Lua files:
//
//	modules/
//	├── greeter/
//	│   ├── module.json    # Manifest (optional)
//	│   └── init.lua       # Entry point
//	└── solo.lua           # Single-file module, id "solo"
//
// # Manifest
//
// The manifest names the module and its dependencies:
//
//	{
//	  "id": "app",
//	  "version": "1.2.0",
//	  "entry": "init.lua",
//	  "dependsOn": ["greeter"],
//	  "constraints": {"greeter": "^1.0"},
//	  "config": {"verbose": true}
//	}
//
// module.yaml and module.yml are read the same way.
//
// # Lifecycle
//
// The Container owns every loaded module. It keeps a dependency graph of
// them and guarantees that a module is only loaded while its dependencies
// are, and that unloading a module unloads its dependants first. A module
// moves through StateLoading, StateActive and StateUnloading; readers of
// Modules only ever see active modules.
//
// Bootstrap loads a whole batch of discovered modules in dependency order.
// Manager wraps the Container with reload, shutdown and lifecycle events,
// and Watcher drives the Manager from file system changes.
//
// # Lua modules
//
// Each Lua module runs in its own state. A module publishes symbols with
// export and resources with provide; other modules reach them through
// require, import and resources:
//
//	-- greeter/init.lua
//	export("greet", function(name) return "hello " .. name end)
//
//	-- app/init.lua
//	local greet = require("greet")
//	function on_load() log.info(greet(module.id)) end
//
// Lookups go through the isolation registry, so a module only sees what
// other loaded modules chose to publish. setup(config), on_load and
// on_unload are called when present.
package plugin
