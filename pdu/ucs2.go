package pdu

import "unicode/utf16"

// ucs2Encode converts text to UTF-16BE octets.
func ucs2Encode(text string) []byte {
	units := utf16.Encode([]rune(text))
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		out = append(out, byte(u>>8), byte(u))
	}
	return out
}

// ucs2Decode converts UTF-16BE octets to text. A trailing odd byte is
// ignored.
func ucs2Decode(data []byte) string {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, uint16(data[i])<<8|uint16(data[i+1]))
	}
	return string(utf16.Decode(units))
}

// ucs2UnitLen returns the number of UTF-16 code units needed for r.
func ucs2UnitLen(r rune) int {
	if r > 0xffff {
		return 2
	}
	return 1
}
