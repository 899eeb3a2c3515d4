package pdu

import "fmt"

// CodecError reports a malformed PDU on encode input or decode input.
//
// Field names the offending PDU field so callers can log what exactly was
// wrong with the payload. A CodecError is never retryable: the input itself
// is defective.
type CodecError struct {
	Field string
	Msg   string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("pdu: bad %s: %s", e.Field, e.Msg)
}

func codecErrf(field, format string, args ...any) *CodecError {
	return &CodecError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
