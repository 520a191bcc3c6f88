package siren

import "errors"

var (
	// ErrUnsupportedOption is returned by TurnOn when an option is requested
	// that the entity does not declare.
	ErrUnsupportedOption = errors.New("siren option not supported")
	// ErrInvalidOption is returned by TurnOn for out-of-range option values.
	ErrInvalidOption = errors.New("invalid siren option")
)
