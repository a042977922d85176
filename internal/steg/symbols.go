package steg

// ToSymbols splits every byte into four 2-bit symbols, least significant
// pair first.
func ToSymbols(data []byte) []byte {
	out := make([]byte, 0, len(data)*symbolsPerByte)
	for _, b := range data {
		out = append(out,
			b&lowMask,
			(b>>2)&lowMask,
			(b>>4)&lowMask,
			(b>>6)&lowMask,
		)
	}
	return out
}

// FromSymbols rebuilds one byte from four symbols. Inputs are masked to two
// bits, so raw channel values are accepted as well.
func FromSymbols(s0, s1, s2, s3 byte) byte {
	return s0&lowMask |
		(s1&lowMask)<<2 |
		(s2&lowMask)<<4 |
		(s3&lowMask)<<6
}

// packSymbols reassembles whole bytes from syms; a trailing partial byte is
// dropped.
func packSymbols(dst, syms []byte) []byte {
	for i := 0; i+symbolsPerByte <= len(syms); i += symbolsPerByte {
		dst = append(dst, FromSymbols(syms[i], syms[i+1], syms[i+2], syms[i+3]))
	}
	return dst
}
