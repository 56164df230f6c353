package sysex

import "github.com/pkg/errors"

// EncodeNibbles splits v into its low and high nibble, low first as the
// Evolver expects them on the wire.
func EncodeNibbles(v byte) (lo, hi byte) {
	return v & 0x0F, v >> 4
}

// DecodeNibbles joins a low and a high nibble back into a byte.
func DecodeNibbles(lo, hi byte) (byte, error) {
	if lo > 0x0F || hi > 0x0F {
		return 0, errors.Wrapf(ErrRange, "nibble pair 0x%02X 0x%02X", lo, hi)
	}
	return lo | hi<<4, nil
}

// AppendNibbles appends the nibble encoding of every byte in values.
func AppendNibbles(b []byte, values []byte) []byte {
	for _, v := range values {
		lo, hi := EncodeNibbles(v)
		b = append(b, lo, hi)
	}
	return b
}

// DecodeNibbleStream decodes consecutive low/high pairs.
func DecodeNibbleStream(data []byte) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, errors.Wrapf(ErrRange, "odd nibble stream length %d", len(data))
	}
	out := make([]byte, 0, len(data)/2)
	for i := 0; i < len(data); i += 2 {
		v, err := DecodeNibbles(data[i], data[i+1])
		if err != nil {
			return nil, errors.Wrapf(err, "at offset %d", i)
		}
		out = append(out, v)
	}
	return out, nil
}
