package pdu

import (
	"encoding/hex"
	"math/rand/v2"
	"strings"
)

// concatRef draws the concatenation reference shared by all parts of one
// logical message. Overridable in tests.
var concatRef = func() int { return rand.IntN(255) + 1 }

// Encode turns an outgoing message into one or more SMS-SUBMIT PDUs.
//
// The alphabet is selected automatically: the GSM 7-bit default alphabet
// when every character of the text is representable in it, UCS2 otherwise.
// When the encoded text exceeds a single segment's capacity the message is
// split into concatenated parts sharing one random reference, with
// sequential 1-based part indices.
//
// The SMSC field of each PDU is left empty (0x00) so the modem uses the
// service center configured on the SIM.
func Encode(msg Submit) ([]Segment, error) {
	digits, toa, addr, err := encodeAddress(msg.Recipient)
	if err != nil {
		return nil, err
	}

	alpha := AlphaUCS2
	if fitsGSM7(msg.Text) {
		alpha = AlphaGSM7
	}

	parts := splitText(msg.Text, alpha)

	var ref int
	if len(parts) > 1 {
		ref = concatRef()
	}

	segments := make([]Segment, 0, len(parts))
	for i, part := range parts {
		var concat *Concat
		if len(parts) > 1 {
			concat = &Concat{Ref: ref, Seq: i + 1, Of: len(parts)}
		}
		segments = append(segments, buildSegment(digits, toa, addr, part, alpha, msg, concat))
	}
	return segments, nil
}

// encodeAddress converts a phone number into its PDU representation:
// digit count, type-of-address octet and semi-octet swapped digits.
func encodeAddress(number string) (int, byte, []byte, error) {
	toa := byte(0x81) // national/unknown
	if strings.HasPrefix(number, "+") {
		toa = 0x91 // international
		number = number[1:]
	}
	if number == "" {
		return 0, 0, nil, codecErrf("recipient", "empty address")
	}
	for _, c := range number {
		if c < '0' || c > '9' {
			return 0, 0, nil, codecErrf("recipient", "non-digit character %q", c)
		}
	}

	octets := make([]byte, (len(number)+1)/2)
	for i, c := range number {
		d := byte(c - '0')
		if i%2 == 0 {
			octets[i/2] = 0xf0 | d
		} else {
			octets[i/2] = octets[i/2]&0x0f | d<<4
		}
	}
	return len(number), toa, octets, nil
}

// splitText cuts text into per-segment chunks without splitting an
// extension-table escape pair (GSM7) or a surrogate pair (UCS2) across
// segment boundaries.
func splitText(text string, alpha Alphabet) []string {
	var capSingle, capMulti int
	var cost func(rune) int
	if alpha == AlphaGSM7 {
		capSingle, capMulti = gsm7SingleCap, gsm7MultiCap
		cost = gsm7SeptetCost
	} else {
		capSingle, capMulti = ucs2SingleCap, ucs2MultiCap
		cost = ucs2UnitLen
	}

	total := 0
	for _, r := range text {
		total += cost(r)
	}
	if total <= capSingle {
		return []string{text}
	}

	var parts []string
	var cur []rune
	used := 0
	for _, r := range text {
		c := cost(r)
		if used+c > capMulti {
			parts = append(parts, string(cur))
			cur = cur[:0]
			used = 0
		}
		cur = append(cur, r)
		used += c
	}
	return append(parts, string(cur))
}

// buildSegment assembles one SMS-SUBMIT TPDU and hex-encodes it together
// with the empty SMSC prefix.
func buildSegment(digits int, toa byte, addr []byte, text string, alpha Alphabet, msg Submit, concat *Concat) Segment {
	firstOctet := byte(0x01) // SMS-SUBMIT, no validity period
	if concat != nil {
		firstOctet |= 0x40 // UDHI
	}
	if msg.StatusReport {
		firstOctet |= 0x20 // SRR
	}

	var dcs byte
	if alpha == AlphaUCS2 {
		dcs = 0x08
	}
	if msg.Flash {
		dcs |= 0x10 // class 0
	}

	var udh []byte
	if concat != nil {
		udh = []byte{0x05, 0x00, 0x03, byte(concat.Ref), byte(concat.Of), byte(concat.Seq)}
	}

	var udl byte
	var ud []byte
	if alpha == AlphaGSM7 {
		septets := gsm7Septets(text)
		if concat != nil {
			udl = byte(udhConcatSeptets + len(septets))
			ud = append(udh, pack7Bit(septets, udhConcatFill)...)
		} else {
			udl = byte(len(septets))
			ud = pack7Bit(septets, 0)
		}
	} else {
		body := ucs2Encode(text)
		ud = append(udh, body...)
		udl = byte(len(ud))
	}

	tpdu := make([]byte, 0, 10+len(addr)+len(ud))
	tpdu = append(tpdu, firstOctet, 0x00 /* MR: modem assigns */, byte(digits), toa)
	tpdu = append(tpdu, addr...)
	tpdu = append(tpdu, 0x00 /* PID */, dcs, udl)
	tpdu = append(tpdu, ud...)

	seg := Segment{
		Hex:     "00" + strings.ToUpper(hex.EncodeToString(tpdu)),
		TPDULen: len(tpdu),
	}
	if concat != nil {
		seg.Ref = concat.Ref
		seg.Seq = concat.Seq
		seg.Of = concat.Of
	}
	return seg
}
