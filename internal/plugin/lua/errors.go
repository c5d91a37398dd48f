package lua

import "errors"

var (
	// ErrStateClosed is returned when operating on a closed Lua state.
	ErrStateClosed = errors.New("lua: state is closed")

	// ErrNotFunction is returned when a named global exists but is not
	// callable.
	ErrNotFunction = errors.New("lua: global is not a function")
)
