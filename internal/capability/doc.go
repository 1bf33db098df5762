// Package capability defines the contract between the engine and the units
// of work it runs.
//
// A Capability executes with a configuration map and an Emitter for
// progress/log output, and returns a Result. The Registry resolves
// capabilities by name, constructing instances lazily on first use and
// retrying failed loads on the next lookup instead of caching the failure.
//
// Concrete built-in capabilities live in the builtin subpackage.
package capability
