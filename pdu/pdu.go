// Package pdu encodes and decodes SMS messages in PDU mode (3GPP TS 23.040)
// and reassembles concatenated messages.
//
// Outgoing messages are encoded as SMS-SUBMIT PDUs, automatically picking
// the GSM 7-bit default alphabet when the whole text fits it and UCS2
// otherwise, and splitting into concatenated parts when the text exceeds a
// single segment. Incoming SMS-DELIVER PDUs (and stored SMS-SUBMIT PDUs)
// are decoded into structured messages; multipart fragments are collected
// by a Collector until complete or stale.
package pdu

import (
	"time"
)

// Alphabet is the character encoding used for a message body.
type Alphabet int

const (
	AlphaGSM7 Alphabet = iota
	Alpha8Bit
	AlphaUCS2
)

// Segment capacities in body units (septets for GSM7, UCS2 characters
// otherwise), with and without the 6-octet concatenation header.
const (
	gsm7SingleCap = 160
	gsm7MultiCap  = 153
	ucs2SingleCap = 70
	ucs2MultiCap  = 67

	// 05 00 03 <ref> <total> <seq>
	udhConcatLen     = 6
	udhConcatSeptets = 7 // ceil(6*8 / 7)
	udhConcatFill    = 1 // 7*7 - 6*8
)

// Submit describes an outgoing message prior to encoding.
type Submit struct {
	// Recipient is the destination address, international format when
	// prefixed with '+'.
	Recipient string
	// Text is the message body.
	Text string
	// Flash marks the message class 0 (displayed immediately, not stored).
	Flash bool
	// StatusReport requests a delivery status report from the SMSC.
	StatusReport bool
}

// Segment is one encoded part of a Submit, ready for AT+CMGS.
type Segment struct {
	// Hex is the full PDU (SMSC prefix included) as uppercase hex pairs.
	Hex string
	// TPDULen is the TPDU octet count excluding the SMSC prefix, which is
	// the length argument AT+CMGS requires.
	TPDULen int
	// Ref is the concatenation reference shared by all parts of one
	// logical message, 0 for a single-part message.
	Ref int
	// Seq and Of are the 1-based part index and total part count.
	Seq int
	Of  int
}

// Concat is the concatenation header of a multipart message fragment.
type Concat struct {
	Ref int
	Seq int
	Of  int
}

// Deliver is a decoded incoming message (or stored outgoing message when
// decoded from an SMS-SUBMIT PDU, in which case Sender holds the
// destination address and Timestamp is zero).
type Deliver struct {
	SMSC      string
	Sender    string
	Timestamp time.Time
	Alphabet  Alphabet
	Text      string
	// Concat is non-nil when the PDU carried a concatenation header.
	Concat *Concat
	// Index is the modem storage slot the PDU was read from. It is not
	// part of the PDU itself; the caller sets it for later deletion.
	Index int
}
