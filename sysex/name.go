package sysex

import (
	"strings"

	"github.com/pkg/errors"
)

// NameLen is the fixed width of a program name on the wire.
const NameLen = 16

// EncodeName space-pads name to NameLen ASCII bytes.
func EncodeName(name string) ([NameLen]byte, error) {
	var out [NameLen]byte
	if len(name) > NameLen {
		return out, errors.Wrapf(ErrOverflow, "%q has %d characters, maximum is %d", name, len(name), NameLen)
	}
	for i := range out {
		out[i] = ' '
	}
	for i, r := range name {
		if r > 0x7F {
			return out, errors.Wrapf(ErrRange, "%q is not ASCII at position %d", name, i)
		}
		out[i] = byte(r)
	}
	return out, nil
}

// DecodeName turns wire bytes into a NameLen character string. Bytes outside
// the printable ASCII range become spaces; short input is padded.
func DecodeName(b []byte) string {
	var sb strings.Builder
	sb.Grow(NameLen)
	for i := 0; i < NameLen; i++ {
		c := byte(' ')
		if i < len(b) && b[i] >= 0x20 && b[i] <= 0x7E {
			c = b[i]
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
