package sysex

const groupSize = 7

// PackedLen returns the packed size of n data bytes: one flag byte per group
// of up to seven bytes.
func PackedLen(n int) int {
	return n + (n+groupSize-1)/groupSize
}

// UnpackedLen is the inverse of PackedLen. A trailing flag byte without data
// contributes nothing.
func UnpackedLen(n int) int {
	full, rest := n/(groupSize+1), n%(groupSize+1)
	if rest > 0 {
		rest--
	}
	return full*groupSize + rest
}

// Pack moves the top bit of every byte into a flag byte that leads each
// group of seven. Bit k of the flag holds the top bit of the k-th byte of the
// group. An empty input packs to an empty output.
func Pack(data []byte) []byte {
	out := make([]byte, 0, PackedLen(len(data)))
	for start := 0; start < len(data); start += groupSize {
		end := min(start+groupSize, len(data))
		flags := len(out)
		out = append(out, 0)
		for k, b := range data[start:end] {
			out[flags] |= (b >> 7) << k
			out = append(out, b&0x7F)
		}
	}
	return out
}

// Unpack restores the top bits moved out by Pack.
func Unpack(packed []byte) []byte {
	out := make([]byte, 0, UnpackedLen(len(packed)))
	var flags byte
	for n, b := range packed {
		k := n % (groupSize + 1)
		if k == 0 {
			flags = b
			continue
		}
		if flags&(1<<(k-1)) != 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}
