package codec

// Alphabet is the URL-safe base64 alphabet used by every segment
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

var reverse = func() [256]int8 {
	var r [256]int8
	for i := range r {
		r[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		r[Alphabet[i]] = int8(i)
	}
	return r
}()

// sextet returns the 6-bit value of c, or -1 when c is outside the alphabet
func sextet(c byte) int {
	return int(reverse[c])
}

// valid reports whether every character of s is in the alphabet
func valid(s string) bool {
	for i := 0; i < len(s); i++ {
		if reverse[s[i]] < 0 {
			return false
		}
	}
	return true
}

// encodeID writes the low w*6 bits of id as w characters, most significant first
func encodeID(id, w int) string {
	buf := make([]byte, w)
	for i := w - 1; i >= 0; i-- {
		buf[i] = Alphabet[id&0x3f]
		id >>= 6
	}
	return string(buf)
}

// decodeID reads w characters; the caller has checked the alphabet
func decodeID(s string) int {
	id := 0
	for i := 0; i < len(s); i++ {
		id = id<<6 | sextet(s[i])
	}
	return id
}

// packBytes packs 8-bit values 6 bits at a time, zero-padding the tail
func packBytes(values []int) string {
	if len(values) == 0 {
		return ""
	}
	out := make([]byte, 0, (len(values)*8+5)/6)
	acc, bits := 0, 0
	for _, v := range values {
		acc = acc<<8 | (v & 0xff)
		bits += 8
		for bits >= 6 {
			bits -= 6
			out = append(out, Alphabet[(acc>>bits)&0x3f])
		}
		acc &= (1 << bits) - 1
	}
	if bits > 0 {
		out = append(out, Alphabet[(acc<<(6-bits))&0x3f])
	}
	return string(out)
}

// unpackBytes reverses packBytes; bits that do not fill a byte are dropped
func unpackBytes(s string) []int {
	var out []int
	acc, bits := 0, 0
	for i := 0; i < len(s); i++ {
		acc = acc<<6 | sextet(s[i])
		bits += 6
		if bits >= 8 {
			bits -= 8
			out = append(out, (acc>>bits)&0xff)
			acc &= (1 << bits) - 1
		}
	}
	return out
}
