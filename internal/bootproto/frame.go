package bootproto

// Shared framing helpers. spec.md §9 (DESIGN NOTES) calls out that the
// C original duplicated these byte-layout rules once per operation
// (lib/stm32.c repeats the same buf[4] = buf[0]^buf[1]^buf[2]^buf[3]
// four times); here every command, address and data frame is built by
// exactly one function.

// commandFrame returns the two-byte {op, op^0xFF} pair every bootloader
// command begins with.
func commandFrame(op byte) [2]byte {
	return [2]byte{op, op ^ 0xFF}
}

// addressFrame returns the four big-endian address bytes followed by
// their bytewise XOR checksum.
func addressFrame(addr uint32) [5]byte {
	var f [5]byte
	f[0] = byte(addr >> 24)
	f[1] = byte(addr >> 16)
	f[2] = byte(addr >> 8)
	f[3] = byte(addr)
	f[4] = f[0] ^ f[1] ^ f[2] ^ f[3]
	return f
}

// dataFrame returns [N-1, payload..., checksum] where checksum is the
// XOR of the length byte and every payload byte, as WRITE_MEMORY
// requires. len(payload) must be in [1,256].
func dataFrame(payload []byte) []byte {
	n := len(payload)
	f := make([]byte, n+2)
	f[0] = byte(n - 1)
	cs := f[0]
	for i, b := range payload {
		f[i+1] = b
		cs ^= b
	}
	f[n+1] = cs
	return f
}

// lengthFrame returns the two-byte {N-1, (N-1)^0xFF} pair used by
// READ_MEMORY's length phase, which carries no payload of its own.
func lengthFrame(n int) [2]byte {
	l := byte(n - 1)
	return [2]byte{l, l ^ 0xFF}
}
