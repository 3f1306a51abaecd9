package engine

import "strings"

const (
	trapSeparator = "\nwasm stack trace:"
	trapPrefix    = "wasm error: "
)

// ParseTrap extracts the trap message and backtrace from an engine error.
// Returns ok=false for errors that are not guest traps, such as context
// cancellation or a closed module.
func ParseTrap(err error) (message, backtrace string, ok bool) {
	if err == nil {
		return "", "", false
	}
	text := err.Error()
	idx := strings.Index(text, trapSeparator)
	if idx < 0 {
		return "", "", false
	}
	message = text[:idx]
	if i := strings.LastIndex(message, trapPrefix); i >= 0 {
		message = message[i+len(trapPrefix):]
	}
	backtrace = strings.TrimPrefix(text[idx+len(trapSeparator):], "\n")
	return message, backtrace, true
}
