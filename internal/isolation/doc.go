// Package isolation tracks one namespace (Context) per loaded module and
// answers cross-module symbol and resource queries.
//
// A Context first looks in its own module. On a miss it asks the Registry,
// which asks every other registered context in registration order:
//
//	ctx.Resolve("greeter")    // own symbols, then first hit among the others
//	ctx.Enumerate("services") // own matches followed by everybody else's
//
// Each context counts the names it is currently resolving on behalf of
// another context. A context asked again for such a name answers from its
// own module only instead of delegating further, so two modules that both
// lack a symbol and ask each other for it terminate.
//
// Lookups may run re-entrantly from module code at any time. The registry
// lock is held only to snapshot the member list, never while a module's
// Finder runs.
package isolation
