// Package sandbox runs nested guest instances on behalf of an executing
// guest. The outer guest acts as a supervisor: it supplies the wasm bytes
// and an environment descriptor naming which of its dispatchable functions
// and shared memories the nested instance may import. Imported functions
// are routed back into the supervisor through its dispatch thunk, so the
// nested guest never gains direct access to host functions.
//
// A Store owns every instance and memory created during one supervisor
// call. Stores are short-lived and torn down when the call returns.
package sandbox
