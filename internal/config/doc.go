// Package config provides the configuration for modhost.
//
// Settings start from Default, are overlaid by modhost.toml and then by
// MODHOST_* environment variables. Command line flags win over all of them;
// the caller applies those after Load.
//
// # File format
//
//	[modules]
//	paths = ["./modules"]
//	watch = true
//	debounce = "250ms"
//
//	[lua]
//	call_timeout = "5s"
//	call_stack_size = 256
//
//	[log]
//	level = "debug"
//	format = "json"
//
//	[metrics]
//	listen = ":9090"
//
//	[module_config.greeter]
//	greeting = "hi"
//
// # Environment
//
// MODHOST_MODULES_PATHS (list separated by the OS path list separator),
// MODHOST_MODULES_WATCH, MODHOST_MODULES_DEBOUNCE, MODHOST_LUA_CALL_TIMEOUT,
// MODHOST_LUA_CALL_STACK_SIZE, MODHOST_LOG_LEVEL, MODHOST_LOG_FORMAT and
// MODHOST_METRICS_LISTEN override the matching file settings.
package config
