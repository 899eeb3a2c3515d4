package modem

import (
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using
// channels. The Loop's reader goroutine continuously reads from the
// transport, and reads must block until data is available, like a real
// serial port would.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	writes   chan []byte
	closed   bool
	writeErr error
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 16),
		writes:   make(chan []byte, 64),
	}
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	werr := t.writeErr
	t.mu.Unlock()
	if werr != nil {
		return 0, werr
	}
	data := append([]byte(nil), p...)
	select {
	case t.writes <- data:
	default:
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport, simulating bytes
// arriving from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Writes exposes everything written to the transport, one Write call per
// element.
func (t *TestTransport) Writes() <-chan []byte {
	return t.writes
}

// FailWrites makes every subsequent Write return err.
func (t *TestTransport) FailWrites(err error) {
	t.mu.Lock()
	t.writeErr = err
	t.mu.Unlock()
}
