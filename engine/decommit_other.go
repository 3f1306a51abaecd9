//go:build !linux

package engine

// decommitBuffer has no portable implementation; the caller zero-fills.
func decommitBuffer([]byte) bool {
	return false
}
