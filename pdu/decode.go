package pdu

import (
	"encoding/hex"
	"time"
)

// reader is a bounds-checked cursor over raw PDU octets. Every read names
// the field it is reading so truncation errors identify what was cut off.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) octet(field string) (byte, error) {
	if r.pos >= len(r.data) {
		return 0, codecErrf(field, "truncated at octet %d", r.pos)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) octets(n int, field string) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, codecErrf(field, "need %d octets at %d, have %d", n, r.pos, len(r.data)-r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) rest() []byte {
	return r.data[r.pos:]
}

// Decode parses a hex-encoded PDU string (SMSC prefix included, as read
// from the modem) into a structured message.
//
// SMS-DELIVER and SMS-SUBMIT types are supported; the latter appears when
// reading stored outgoing messages. Any malformed field fails with a
// *CodecError naming that field; a message is never silently dropped.
func Decode(pduHex string) (*Deliver, error) {
	raw, err := hex.DecodeString(pduHex)
	if err != nil {
		return nil, codecErrf("hex", "%v", err)
	}
	r := &reader{data: raw}
	msg := &Deliver{}

	// SMSC: length-prefixed, length counts the type octet.
	smscLen, err := r.octet("smsc")
	if err != nil {
		return nil, err
	}
	if smscLen > 0 {
		smsc, err := r.octets(int(smscLen), "smsc")
		if err != nil {
			return nil, err
		}
		msg.SMSC = decodeDigits(smsc[1:], smsc[0])
	}

	firstOctet, err := r.octet("type")
	if err != nil {
		return nil, err
	}
	hasUDH := firstOctet&0x40 != 0

	var deliver bool
	switch firstOctet & 0x03 {
	case 0x00: // SMS-DELIVER
		deliver = true
	case 0x01: // SMS-SUBMIT
		if _, err := r.octet("mr"); err != nil {
			return nil, err
		}
	default:
		return nil, codecErrf("mti", "unsupported message type %d", firstOctet&0x03)
	}

	// Originating (or destination) address.
	addrDigits, err := r.octet("address")
	if err != nil {
		return nil, err
	}
	addrType, err := r.octet("address")
	if err != nil {
		return nil, err
	}
	addrData, err := r.octets((int(addrDigits)+1)/2, "address")
	if err != nil {
		return nil, err
	}
	msg.Sender = decodeAddress(addrData, addrType, int(addrDigits))

	if _, err := r.octet("pid"); err != nil {
		return nil, err
	}

	dcs, err := r.octet("dcs")
	if err != nil {
		return nil, err
	}
	msg.Alphabet, err = dcsAlphabet(dcs)
	if err != nil {
		return nil, err
	}

	if deliver {
		scts, err := r.octets(7, "scts")
		if err != nil {
			return nil, err
		}
		msg.Timestamp, err = decodeTimestamp(scts)
		if err != nil {
			return nil, err
		}
	} else {
		// Validity period, present depending on VPF bits.
		switch firstOctet & 0x18 {
		case 0x10: // relative, one octet
			if _, err := r.octet("vp"); err != nil {
				return nil, err
			}
		case 0x08, 0x18: // enhanced or absolute, seven octets
			if _, err := r.octets(7, "vp"); err != nil {
				return nil, err
			}
		}
	}

	udl, err := r.octet("udl")
	if err != nil {
		return nil, err
	}
	userData := r.rest()

	septets := int(udl)
	udhLen := 0
	if hasUDH {
		if len(userData) == 0 {
			return nil, codecErrf("udh", "flag set but user data empty")
		}
		udhLen = int(userData[0]) + 1
		if udhLen > len(userData) {
			return nil, codecErrf("udh", "header length %d exceeds user data %d", udhLen, len(userData))
		}
		msg.Concat = parseConcat(userData[1:udhLen])
		if msg.Alphabet == AlphaGSM7 {
			septets -= (udhLen*8 + 6) / 7
		}
		userData = userData[udhLen:]
	}

	// UDL promises a body length; a shorter payload is a truncated PDU,
	// never a shorter message.
	switch msg.Alphabet {
	case AlphaGSM7:
		fillBits := 0
		if hasUDH {
			fillBits = (7 - (udhLen*8)%7) % 7
		}
		if septets < 0 {
			return nil, codecErrf("udl", "length %d smaller than header", udl)
		}
		if need := (fillBits + 7*septets + 7) / 8; len(userData) < need {
			return nil, codecErrf("ud", "%d septets need %d octets, have %d", septets, need, len(userData))
		}
		msg.Text = gsm7String(unpack7Bit(userData, septets, fillBits))
	case Alpha8Bit:
		if need := int(udl) - udhLen; len(userData) < need {
			return nil, codecErrf("ud", "need %d octets, have %d", need, len(userData))
		}
		msg.Text = string(userData)
	case AlphaUCS2:
		if need := int(udl) - udhLen; len(userData) < need {
			return nil, codecErrf("ud", "need %d octets, have %d", need, len(userData))
		}
		msg.Text = ucs2Decode(userData)
	}

	return msg, nil
}

// parseConcat scans UDH information elements for a concatenation header,
// 8-bit (IEI 0x00) or 16-bit (IEI 0x08) reference.
func parseConcat(udh []byte) *Concat {
	pos := 0
	for pos+1 < len(udh) {
		iei := udh[pos]
		iel := int(udh[pos+1])
		pos += 2
		if pos+iel > len(udh) {
			return nil
		}
		ie := udh[pos : pos+iel]
		pos += iel

		switch {
		case iei == 0x00 && iel >= 3:
			return &Concat{Ref: int(ie[0]), Of: int(ie[1]), Seq: int(ie[2])}
		case iei == 0x08 && iel >= 4:
			return &Concat{Ref: int(ie[0])<<8 | int(ie[1]), Of: int(ie[2]), Seq: int(ie[3])}
		}
	}
	return nil
}

// dcsAlphabet derives the body alphabet from the data coding scheme octet.
func dcsAlphabet(dcs byte) (Alphabet, error) {
	switch {
	case dcs&0xc0 == 0x00: // general data coding
		switch (dcs >> 2) & 0x03 {
		case 0:
			return AlphaGSM7, nil
		case 1:
			return Alpha8Bit, nil
		case 2:
			return AlphaUCS2, nil
		}
		return 0, codecErrf("dcs", "reserved alphabet in 0x%02X", dcs)
	case dcs&0xf0 == 0xf0: // data coding / message class
		if dcs&0x04 != 0 {
			return Alpha8Bit, nil
		}
		return AlphaGSM7, nil
	default:
		return 0, codecErrf("dcs", "unsupported coding group 0x%02X", dcs)
	}
}

// decodeAddress renders an address field, handling alphanumeric senders
// (GSM7-packed) as well as numeric ones.
func decodeAddress(data []byte, addrType byte, digits int) string {
	if addrType&0x70 == 0x50 { // alphanumeric
		return gsm7String(unpack7Bit(data, digits*4/7, 0))
	}
	return decodeDigits(data, addrType)
}

// decodeDigits renders semi-octet swapped BCD digits, prefixing '+' for
// international numbers and skipping the 0xF filler nibble.
func decodeDigits(data []byte, addrType byte) string {
	out := make([]byte, 0, len(data)*2+1)
	if addrType&0x70 == 0x10 {
		out = append(out, '+')
	}
	for _, b := range data {
		lo := b & 0x0f
		hi := b >> 4
		if lo <= 9 {
			out = append(out, '0'+lo)
		}
		if hi <= 9 {
			out = append(out, '0'+hi)
		}
	}
	return string(out)
}

// decodeTimestamp parses the 7-octet service center timestamp: BCD with
// swapped nibbles, timezone offset in quarter-hours with a sign bit.
func decodeTimestamp(data []byte) (time.Time, error) {
	bcd := func(b byte) (int, bool) {
		lo, hi := int(b&0x0f), int(b>>4)
		if lo > 9 || hi > 9 {
			return 0, false
		}
		return lo*10 + hi, true
	}

	var v [6]int
	for i := 0; i < 6; i++ {
		n, ok := bcd(data[i])
		if !ok {
			return time.Time{}, codecErrf("scts", "invalid BCD octet 0x%02X", data[i])
		}
		v[i] = n
	}

	tz := data[6]
	sign := 1
	if tz&0x08 != 0 {
		sign = -1
		tz &^= 0x08
	}
	quarters, ok := bcd(tz)
	if !ok {
		return time.Time{}, codecErrf("scts", "invalid timezone octet 0x%02X", data[6])
	}

	loc := time.FixedZone("", sign*quarters*15*60)
	return time.Date(2000+v[0], time.Month(v[1]), v[2], v[3], v[4], v[5], 0, loc), nil
}
