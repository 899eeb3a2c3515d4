package modem_test

import (
	gomock "go.uber.org/mock/gomock"

	"i4.energy/across/gsmmodem/modem"
)

// MockSequenceBuilder assembles the strictly ordered Write/Read pairs the
// initialization sequence produces on the transport.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

func (b *MockSequenceBuilder) expect(cmd, response string) *MockSequenceBuilder {
	wire := cmd + "\r"
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(wire)).Return(len(wire), nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			copy(p, response)
			return len(response), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.expect("AT", "AT\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.expect("ATE0", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) NumericErrors() *MockSequenceBuilder {
	return b.expect("AT+CMEE=1", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.expect("AT+CPIN?", "\r\n+CPIN: READY\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.expect("AT+CPIN?", "\r\n+CPIN: SIM PIN\r\nOK\r\n")
}

func (b *MockSequenceBuilder) PduMode() *MockSequenceBuilder {
	return b.expect("AT+CMGF=0", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) MessageIndications() *MockSequenceBuilder {
	return b.expect("AT+CNMI=2,1", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) MessagingService() *MockSequenceBuilder {
	return b.expect("AT+CSMS=0", "\r\n+CSMS: 1,1,1\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls is the complete successful initialization sequence.
func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).
		AT().
		EchoOff().
		NumericErrors().
		SimReady().
		PduMode().
		MessageIndications().
		MessagingService().
		Build()
}
