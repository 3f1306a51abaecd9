// Package engine wraps the wazero runtime behind the narrow surface the
// executor needs: compile, instantiate, call exported functions by name,
// read and write exported globals, and view linear memory through the root
// Memory interface.
//
// Nothing outside this package imports wazero. The executor reaches the
// guest's function table through accessor exports compiled into the module,
// so the engine never exposes table or store internals.
package engine
