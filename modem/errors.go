package modem

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/gsmmodem/at"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	//
	// Callers may handle this error specially (for example, by prompting
	// the user for a PIN) and retry initialization.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrLoopRunning is returned when Loop is called while the event loop
	// is already running.
	ErrLoopRunning = errors.New("event loop already running")

	// ErrCommandPending is returned when a command is submitted while
	// another command is still in flight. The half-duplex link admits at
	// most one outstanding command; callers must serialize submissions.
	// Nothing is written to the transport in this case.
	ErrCommandPending = errors.New("another command is pending")

	// ErrTimeout is returned when no terminal response arrived within the
	// submission's deadline. The command may or may not have been executed
	// by the modem; retrying is the caller's decision.
	ErrTimeout = errors.New("command timed out")

	// ErrTransportClosed is returned for all pending and subsequent
	// submissions once the underlying byte channel has failed. The engine
	// does not recover; the modem must be recreated.
	ErrTransportClosed = errors.New("transport closed")
)

// ModemError is an explicit error result reported by the modem itself,
// a "+CMS ERROR:<n>" or "+CME ERROR:<n>" terminal line (or a bare "ERROR",
// in which case Code is -1).
//
// Whether a ModemError is worth retrying depends on the code: network
// congestion codes are transient while, say, an invalid destination address
// is permanent. That policy belongs to the caller.
type ModemError struct {
	// Domain is "CMS" for SMS service failures, "CME" for equipment
	// failures, or empty for a bare ERROR.
	Domain string
	// Code is the numeric error reported by the modem, -1 if absent.
	Code int
}

func (e *ModemError) Error() string {
	if e.Domain == "" {
		return "modem: ERROR"
	}
	return fmt.Sprintf("modem: +%s ERROR: %d", e.Domain, e.Code)
}

// parseModemError converts a terminal error line into a ModemError.
func parseModemError(line string) *ModemError {
	parse := func(domain, rest string) *ModemError {
		code, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			code = -1
		}
		return &ModemError{Domain: domain, Code: code}
	}
	switch {
	case strings.HasPrefix(line, at.CmsError):
		return parse("CMS", line[len(at.CmsError):])
	case strings.HasPrefix(line, at.CmeError):
		return parse("CME", line[len(at.CmeError):])
	default:
		return &ModemError{Code: -1}
	}
}
