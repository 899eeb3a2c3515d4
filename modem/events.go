package modem

import (
	"strconv"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"i4.energy/across/gsmmodem/at"
)

// Message is a received SMS as surfaced to listeners, after PDU decoding
// and, for concatenated messages, reassembly.
type Message struct {
	Sender string
	Time   time.Time
	Text   string
	// Incomplete marks a multipart message whose reassembly timed out
	// with parts missing. Only emitted when Config.EmitPartial is set.
	Incomplete bool
	// Missing lists the absent part indices of an incomplete message.
	Missing []int
}

// RegistrationState is the network registration status from +CREG.
type RegistrationState int

const (
	RegNotRegistered RegistrationState = 0
	RegHome          RegistrationState = 1
	RegSearching     RegistrationState = 2
	RegDenied        RegistrationState = 3
	RegUnknown       RegistrationState = 4
	RegRoaming       RegistrationState = 5
)

// Event is a tagged variant over the asynchronous notifications the modem
// can produce.
type Event interface {
	event()
}

// NewMessageEvent reports a freshly stored message (+CMTI): the slot it
// landed in, before it has been read and decoded.
type NewMessageEvent struct {
	Storage string
	Index   int
}

// MessageEvent carries a fully decoded (and reassembled) received message.
type MessageEvent struct {
	Message Message
}

// SignalEvent reports signal quality as a percentage, -1 when unknown.
type SignalEvent struct {
	Percent int
}

// RegistrationEvent reports a network registration change.
type RegistrationEvent struct {
	State RegistrationState
}

// ErrorEvent reports an asynchronous failure, such as a PDU that could not
// be decoded.
type ErrorEvent struct {
	Err error
}

// DisconnectEvent reports that the transport failed. It is broadcast
// exactly once; the modem is unusable afterwards.
type DisconnectEvent struct {
	Err error
}

func (NewMessageEvent) event()   {}
func (MessageEvent) event()      {}
func (SignalEvent) event()       {}
func (RegistrationEvent) event() {}
func (ErrorEvent) event()        {}
func (DisconnectEvent) event()   {}

// listeners is a concurrent subscriber registry. Dispatch happens on the
// dispatcher goroutine, never on the protocol loop, so a slow handler can
// delay other handlers but not frame processing.
type listeners struct {
	seq      *xsync.Counter
	handlers *xsync.MapOf[int64, func(Event)]
}

func newListeners() *listeners {
	return &listeners{
		seq:      xsync.NewCounter(),
		handlers: xsync.NewMapOf[int64, func(Event)](),
	}
}

// add registers a handler and returns its removal function.
func (l *listeners) add(h func(Event)) func() {
	l.seq.Inc()
	id := l.seq.Value()
	l.handlers.Store(id, h)
	return func() { l.handlers.Delete(id) }
}

func (l *listeners) dispatch(e Event) {
	l.handlers.Range(func(_ int64, h func(Event)) bool {
		h(e)
		return true
	})
}

// OnEvent subscribes to every event. The returned function removes the
// subscription.
func (m *Modem) OnEvent(h func(Event)) func() {
	return m.listeners.add(h)
}

// OnIncomingMessage subscribes to decoded received messages.
func (m *Modem) OnIncomingMessage(h func(Message)) func() {
	return m.listeners.add(func(e Event) {
		if ev, ok := e.(MessageEvent); ok {
			h(ev.Message)
		}
	})
}

// OnSignalQuality subscribes to signal quality reports.
func (m *Modem) OnSignalQuality(h func(percent int)) func() {
	return m.listeners.add(func(e Event) {
		if ev, ok := e.(SignalEvent); ok {
			h(ev.Percent)
		}
	})
}

// OnNetworkStatus subscribes to registration state changes.
func (m *Modem) OnNetworkStatus(h func(RegistrationState)) func() {
	return m.listeners.add(func(e Event) {
		if ev, ok := e.(RegistrationEvent); ok {
			h(ev.State)
		}
	})
}

// OnDisconnect subscribes to the transport failure notification. It fires
// at most once per modem.
func (m *Modem) OnDisconnect(h func(error)) func() {
	return m.listeners.add(func(e Event) {
		if ev, ok := e.(DisconnectEvent); ok {
			h(ev.Err)
		}
	})
}

// OnModemError subscribes to asynchronous failures (undecodable PDUs,
// transport loss).
func (m *Modem) OnModemError(h func(error)) func() {
	return m.listeners.add(func(e Event) {
		switch ev := e.(type) {
		case ErrorEvent:
			h(ev.Err)
		case DisconnectEvent:
			h(ev.Err)
		}
	})
}

// parseURC converts an unsolicited result line into an Event, or nil for
// lines that carry nothing actionable (RING, +CDSI).
func parseURC(line string) Event {
	switch {
	case strings.HasPrefix(line, at.UrcNewMsg):
		storage, index, ok := parseCMTI(line)
		if !ok {
			return nil
		}
		return NewMessageEvent{Storage: storage, Index: index}
	case strings.HasPrefix(line, at.UrcRegistration):
		rest := strings.TrimSpace(line[len(at.UrcRegistration):])
		// URC form is "+CREG: <stat>"; the query response form
		// "+CREG: <n>,<stat>" never reaches this path.
		stat, err := strconv.Atoi(strings.SplitN(rest, ",", 2)[0])
		if err != nil || stat < 0 || stat > 5 {
			return nil
		}
		return RegistrationEvent{State: RegistrationState(stat)}
	default:
		return nil
	}
}

// parseCMTI extracts storage and index from a new-message indication,
// e.g. `+CMTI: "SM",4`.
func parseCMTI(line string) (string, int, bool) {
	rest := strings.TrimSpace(line[len(at.UrcNewMsg):])
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	storage := strings.Trim(strings.TrimSpace(parts[0]), `"`)
	index, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", 0, false
	}
	return storage, index, true
}

// parseCSQ extracts the RSSI from an AT+CSQ response line and converts it
// to a percentage; 99 means "not known or not detectable".
func parseCSQ(lines []string) (int, bool) {
	for _, line := range lines {
		if !strings.HasPrefix(line, at.UrcSignal) {
			continue
		}
		rest := strings.TrimSpace(line[len(at.UrcSignal):])
		fields := strings.SplitN(rest, ",", 2)
		rssi, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return 0, false
		}
		if rssi == 99 {
			return -1, true
		}
		if rssi > 31 {
			rssi = 31
		}
		return rssi * 100 / 31, true
	}
	return 0, false
}
