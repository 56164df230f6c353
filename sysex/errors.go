// Package sysex holds the byte-level codecs of the Evolver SysEx protocol:
// nibble pairs, MS-bit packing and fixed-width names.
package sysex

import "github.com/pkg/errors"

var (
	// ErrRange is returned when a value does not fit its declared bounds.
	ErrRange = errors.New("value out of range")
	// ErrOverflow is returned when a name is longer than NameLen characters.
	ErrOverflow = errors.New("name too long")
	// ErrUnrecognized is returned for messages with an unknown identifier,
	// a foreign prefix or a payload of the wrong length.
	ErrUnrecognized = errors.New("unrecognized message")
)
