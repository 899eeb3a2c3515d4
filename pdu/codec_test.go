package pdu

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A hand-assembled SMS-DELIVER PDU:
//
//	00                SMSC: use SIM default
//	04                first octet: SMS-DELIVER
//	0B 91 5155214365F7  OA: +15551234567, international
//	00                PID
//	00                DCS: GSM 7-bit default alphabet
//	62801321436580    SCTS: 2026-08-31 12:34:56 +02:00
//	05 C8329BFD06     UDL 5, "Hello"
const deliverHello = "00040B915155214365F700006280132143658005C8329BFD06"

func TestDecodeDeliver(t *testing.T) {
	msg, err := Decode(deliverHello)
	require.NoError(t, err)

	assert.Equal(t, "+15551234567", msg.Sender)
	assert.Equal(t, "Hello", msg.Text)
	assert.Equal(t, AlphaGSM7, msg.Alphabet)
	assert.Nil(t, msg.Concat)

	assert.Equal(t, 2026, msg.Timestamp.Year())
	assert.Equal(t, "08-31 12:34:56", msg.Timestamp.Format("01-02 15:04:05"))
	_, offset := msg.Timestamp.Zone()
	assert.Equal(t, 2*3600, offset)
}

func TestDecodeDeliverUCS2(t *testing.T) {
	// Same envelope, DCS 0x08, body "Привет" as UTF-16BE.
	pdu := "00040B915155214365F70008628013214365800C041F04400438043204350442"
	msg, err := Decode(pdu)
	require.NoError(t, err)
	assert.Equal(t, AlphaUCS2, msg.Alphabet)
	assert.Equal(t, "Привет", msg.Text)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		pdu   string
		field string
	}{
		{"Bad hex", "00ZZ", "hex"},
		{"Empty", "", "smsc"},
		{"Truncated address", "00040B9151", "address"},
		{"Truncated timestamp", "00040B915155214365F700006280", "scts"},
		{"Reserved alphabet", "00040B915155214365F7000C628013214365800100", "dcs"},
		{"Unsupported MTI", "0002", "mti"},
		{"UDH exceeds user data", "00440B915155214365F70000628013214365800AFF", "udh"},
		{"GSM7 body one octet short", "00040B915155214365F700006280132143658005C8329BFD", "ud"},
		{"GSM7 body two octets short", "00040B915155214365F700006280132143658005C8329B", "ud"},
		{"GSM7 body three octets short", "00040B915155214365F700006280132143658005C832", "ud"},
		{"UCS2 body short of UDL", "00040B915155214365F70008628013214365800C041F0440043804320435", "ud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.pdu)
			require.Error(t, err)

			var cerr *CodecError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestEncodeSingleGSM7(t *testing.T) {
	segs, err := Encode(Submit{Recipient: "+15551234567", Text: "Hello"})
	require.NoError(t, err)
	require.Len(t, segs, 1)

	seg := segs[0]
	assert.Equal(t, 0, seg.Ref)
	assert.True(t, strings.HasPrefix(seg.Hex, "00"), "empty SMSC prefix")
	assert.Equal(t, (len(seg.Hex)-2)/2, seg.TPDULen)
	assert.Contains(t, seg.Hex, "C8329BFD06", "packed body")

	// Round-trip through the SUBMIT decode path.
	msg, err := Decode(seg.Hex)
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", msg.Sender)
	assert.Equal(t, "Hello", msg.Text)
}

func TestEncodeRoundTripGSM7(t *testing.T) {
	texts := []string{
		"",
		"simple ascii text",
		"punctuation: !\"#%&'()*+,-./:;<=>?",
		"extension chars [] {} ~ | \\ ^ €",
		"national àèéùìò ÄÖÑÜ §¿¡",
		strings.Repeat("x", 160),
	}

	for _, text := range texts {
		segs, err := Encode(Submit{Recipient: "+4917612345678", Text: text})
		require.NoError(t, err, "text %q", text)
		require.Len(t, segs, 1, "text %q should fit one segment", text)

		msg, err := Decode(segs[0].Hex)
		require.NoError(t, err)
		assert.Equal(t, AlphaGSM7, msg.Alphabet)
		assert.Equal(t, text, msg.Text)
	}
}

func TestEncodeRoundTripUCS2(t *testing.T) {
	texts := []string{
		"Привет, мир",
		"中文短信测试",
		"emoji \U0001F600\U0001F680",
		"mixed ascii и кириллица",
	}

	for _, text := range texts {
		segs, err := Encode(Submit{Recipient: "+15551234567", Text: text})
		require.NoError(t, err)
		require.Len(t, segs, 1)

		msg, err := Decode(segs[0].Hex)
		require.NoError(t, err)
		assert.Equal(t, AlphaUCS2, msg.Alphabet, "text %q must select UCS2", text)
		assert.Equal(t, text, msg.Text)
	}
}

func TestEncodeFlashDCS(t *testing.T) {
	segs, err := Encode(Submit{Recipient: "+15551234567", Text: "wake up", Flash: true})
	require.NoError(t, err)
	// Hex layout: 00 | 01 00 0B 91 <6 addr octets> 00 <dcs>, so the DCS
	// octet starts at hex offset 24.
	assert.Equal(t, "10", segs[0].Hex[24:26])
}

func TestEncodeConcatenation(t *testing.T) {
	text := strings.Repeat("0123456789", 20) // 200 ASCII characters
	segs, err := Encode(Submit{Recipient: "+15551234567", Text: text})
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.NotZero(t, segs[0].Ref)
	assert.Equal(t, segs[0].Ref, segs[1].Ref, "parts share one reference")
	assert.Equal(t, 1, segs[0].Seq)
	assert.Equal(t, 2, segs[1].Seq)
	assert.Equal(t, 2, segs[0].Of)
	assert.Equal(t, 2, segs[1].Of)

	collector := NewCollector(0)
	var got *Result
	for _, seg := range segs {
		msg, err := Decode(seg.Hex)
		require.NoError(t, err)
		require.NotNil(t, msg.Concat)
		assert.LessOrEqual(t, len(msg.Text), 153, "part body within 153 septets")

		if r := collector.Add(msg); r != nil {
			got = r
		}
	}
	require.NotNil(t, got)
	assert.False(t, got.Incomplete)
	assert.Equal(t, text, got.Message.Text)
}

func TestEncodeConcatenationUCS2(t *testing.T) {
	text := strings.Repeat("привет мир ", 15) // 165 UCS2 characters, 3 parts
	segs, err := Encode(Submit{Recipient: "+15551234567", Text: text})
	require.NoError(t, err)
	require.Len(t, segs, 3)

	collector := NewCollector(0)
	var got *Result
	for _, seg := range segs {
		msg, err := Decode(seg.Hex)
		require.NoError(t, err)
		if r := collector.Add(msg); r != nil {
			got = r
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, text, got.Message.Text)
}

func TestEncodeSplitKeepsEscapePairsTogether(t *testing.T) {
	// Every '€' costs two septets; 100 of them plus padding force a split
	// that must never fall between the escape septet and its extension code.
	text := strings.Repeat("€", 100)
	segs, err := Encode(Submit{Recipient: "+15551234567", Text: text})
	require.NoError(t, err)
	require.Greater(t, len(segs), 1)

	collector := NewCollector(0)
	var got *Result
	for _, seg := range segs {
		msg, err := Decode(seg.Hex)
		require.NoError(t, err)
		if r := collector.Add(msg); r != nil {
			got = r
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, text, got.Message.Text)
}

func TestEncodeBadRecipient(t *testing.T) {
	for _, recipient := range []string{"", "+", "555-1234", "abc"} {
		_, err := Encode(Submit{Recipient: recipient, Text: "hi"})
		require.Error(t, err, "recipient %q", recipient)

		var cerr *CodecError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "recipient", cerr.Field)
	}
}

func TestPack7BitRoundTrip(t *testing.T) {
	for _, fill := range []int{0, 1, 3, 6} {
		septets := gsm7Septets("the quick brown fox")
		packed := pack7Bit(septets, fill)
		assert.Equal(t, septets, unpack7Bit(packed, len(septets), fill), "fill=%d", fill)
	}
}
