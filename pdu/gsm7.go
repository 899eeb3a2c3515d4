package pdu

// GSM 03.38 default alphabet, indexed by septet value.
var gsm7Default = []rune{
	'@', '£', '$', '¥', 'è', 'é', 'ù', 'ì', 'ò', 'Ç', '\n', 'Ø', 'ø', '\r', 'Å', 'å',
	'Δ', '_', 'Φ', 'Γ', 'Λ', 'Ω', 'Π', 'Ψ', 'Σ', 'Θ', 'Ξ', '\x1b', 'Æ', 'æ', 'ß', 'É',
	' ', '!', '"', '#', '¤', '%', '&', '\'', '(', ')', '*', '+', ',', '-', '.', '/',
	'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ':', ';', '<', '=', '>', '?',
	'¡', 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O',
	'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z', 'Ä', 'Ö', 'Ñ', 'Ü', '§',
	'¿', 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o',
	'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z', 'ä', 'ö', 'ñ', 'ü', 'à',
}

// Extension table, reached via the escape septet 0x1B.
var gsm7Extension = map[byte]rune{
	0x0A: '\f',
	0x14: '^',
	0x28: '{',
	0x29: '}',
	0x2F: '\\',
	0x3C: '[',
	0x3D: '~',
	0x3E: ']',
	0x40: '|',
	0x65: '€',
}

const gsm7Escape = 0x1b

var (
	gsm7Reverse    map[rune]byte
	gsm7ExtReverse map[rune]byte
)

func init() {
	gsm7Reverse = make(map[rune]byte, len(gsm7Default))
	for i, r := range gsm7Default {
		if byte(i) == gsm7Escape {
			continue
		}
		gsm7Reverse[r] = byte(i)
	}
	gsm7ExtReverse = make(map[rune]byte, len(gsm7Extension))
	for b, r := range gsm7Extension {
		gsm7ExtReverse[r] = b
	}
}

// gsm7SeptetCost returns the number of septets needed for r, or 0 if r is
// not representable in the default alphabet.
func gsm7SeptetCost(r rune) int {
	if _, ok := gsm7Reverse[r]; ok {
		return 1
	}
	if _, ok := gsm7ExtReverse[r]; ok {
		return 2
	}
	return 0
}

// fitsGSM7 reports whether every rune of text is representable in the
// GSM default alphabet (including the extension table).
func fitsGSM7(text string) bool {
	for _, r := range text {
		if gsm7SeptetCost(r) == 0 {
			return false
		}
	}
	return true
}

// gsm7Septets converts text to a septet sequence, emitting the escape
// septet before extension characters. Callers must have checked fitsGSM7.
func gsm7Septets(text string) []byte {
	septets := make([]byte, 0, len(text))
	for _, r := range text {
		if b, ok := gsm7Reverse[r]; ok {
			septets = append(septets, b)
			continue
		}
		if b, ok := gsm7ExtReverse[r]; ok {
			septets = append(septets, gsm7Escape, b)
		}
	}
	return septets
}

// gsm7String converts a septet sequence back to text. Unknown septets
// decode to '?', an unknown extension code to ' ', mirroring how modems
// render unmapped positions.
func gsm7String(septets []byte) string {
	runes := make([]rune, 0, len(septets))
	escape := false
	for _, s := range septets {
		if s == gsm7Escape && !escape {
			escape = true
			continue
		}
		if escape {
			escape = false
			if r, ok := gsm7Extension[s]; ok {
				runes = append(runes, r)
			} else {
				runes = append(runes, ' ')
			}
			continue
		}
		if int(s) < len(gsm7Default) {
			runes = append(runes, gsm7Default[s])
		} else {
			runes = append(runes, '?')
		}
	}
	return string(runes)
}

// pack7Bit packs septets LSB-first into octets, preceded by fillBits zero
// bits that realign the payload to a septet boundary after a UDH.
func pack7Bit(septets []byte, fillBits int) []byte {
	nbits := fillBits + 7*len(septets)
	if nbits == 0 {
		return nil
	}
	out := make([]byte, (nbits+7)/8)
	pos := fillBits
	for _, s := range septets {
		idx, off := pos/8, pos%8
		out[idx] |= s << off
		if off > 1 && idx+1 < len(out) {
			out[idx+1] |= s >> (8 - off)
		}
		pos += 7
	}
	return out
}

// unpack7Bit extracts count septets from packed data, skipping fillBits
// bits at the start.
func unpack7Bit(data []byte, count, fillBits int) []byte {
	septets := make([]byte, 0, count)
	pos := fillBits
	for i := 0; i < count; i++ {
		idx, off := pos/8, pos%8
		if idx >= len(data) {
			break
		}
		v := uint16(data[idx]) >> off
		if off > 1 && idx+1 < len(data) {
			v |= uint16(data[idx+1]) << (8 - off)
		}
		septets = append(septets, byte(v&0x7f))
		pos += 7
	}
	return septets
}
