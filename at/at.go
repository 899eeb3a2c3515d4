package at

import "strings"

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = "\x1a"
	Esc    = "\x1b"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg       = "+CMTI:"
	UrcStatusReport = "+CDSI:"
	UrcSignal       = "+CSQ:"
	UrcRegistration = "+CREG:"
	UrcCall         = "RING"

	// Commands issued during initialization and normal operation
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdNumericErrors = "AT+CMEE=1"
	CmdSimStatus     = "AT+CPIN?"
	CmdSetPduMode    = "AT+CMGF=0"
	CmdNewMsgInd     = "AT+CNMI=2,1"
	CmdSelectService = "AT+CSMS=0"
	CmdSignal        = "AT+CSQ"

	// SIM states reported by AT+CPIN?
	SimReady = "+CPIN: READY"
	SimPin   = "+CPIN: SIM PIN"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // SMS input prompt
)

// Classify identifies the nature of a modem output line.
//
// Lines matching known URC prefixes are always classified as TypeURC, even
// while a command is in flight: the modem may interleave unsolicited codes
// with command responses, and they must be routed to listeners rather than
// accumulated into the pending response.
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, UrcNewMsg),
		strings.HasPrefix(line, UrcStatusReport),
		strings.HasPrefix(line, UrcRegistration),
		line == UrcCall:
		return TypeURC
	default:
		return TypeData
	}
}
