package command

import "errors"

var (
	// ErrCommandNotFound means the input's first token is not registered.
	ErrCommandNotFound = errors.New("command not found")
	// ErrCommandRequired means the input had no command token at all.
	ErrCommandRequired = errors.New("command required")
)
