package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"i4.energy/across/gsmmodem/at"
	"i4.energy/across/gsmmodem/pdu"
)

// Modem represents a GSM/3G/4G cellular modem driven over AT commands in
// PDU mode. All transport I/O flows through a single event loop, which
// guarantees at most one in-flight command on the half-duplex link and
// routes unsolicited notifications to listeners without disturbing a
// pending command.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// framer splits the transport byte stream into frames. Owned by the
	// init sequence first, then by the Loop's reader goroutine.
	framer *at.Framer
	// config contains the modem configuration settings
	config Config
	log    *slog.Logger

	// collector reassembles concatenated message fragments
	collector *pdu.Collector
	// listeners is the notification subscriber registry
	listeners *listeners

	// commands carries submissions to the Loop. The Loop always receives;
	// a submission arriving while another is outstanding is refused with
	// ErrCommandPending without touching the transport. During a drain
	// one submission is held and launched once the drain resolves.
	commands chan *commandRequest
	// events queues notifications for the dispatcher goroutine. Buffered;
	// overflowing events are dropped rather than stalling the Loop.
	events chan Event

	// execMu serializes the high-level operations so they never collide
	// on the single command slot.
	execMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	loopRunning bool
	// broken records the transport failure, if any. Once set, every
	// submission fails immediately with it.
	broken error
}

// engineState is the Loop's command slot state.
type engineState int

const (
	// engineIdle: no command outstanding, submissions accepted.
	engineIdle engineState = iota
	// engineAwaiting: a command was written, its terminal response is due.
	engineAwaiting
	// engineDraining: the pending command was abandoned (timeout or
	// cancellation) and its late response must still be consumed and
	// discarded, so a stale line cannot be misattributed to the next
	// command. Bounded by the abandoned command's original timeout.
	engineDraining
)

// commandRequest represents an AT command submission to be executed by the Loop.
type commandRequest struct {
	// cmd is the AT command line, written with a trailing CR.
	cmd string
	// payload is the continuation written after the "> " prompt, with the
	// Ctrl-Z terminator appended. Only used when expectPrompt is set.
	payload      string
	expectPrompt bool
	// timeout is the submission's response deadline; it also bounds the
	// drain period should the command be abandoned.
	timeout time.Duration
	// ctx carries the caller's deadline and cancellation.
	ctx      context.Context
	respChan chan commandResponse
}

// commandResponse contains the result of an AT command execution.
type commandResponse struct {
	// lines are the accumulated non-terminal response lines.
	lines []string
	err   error
}

// PollConfig defines configuration for polling operations like waiting for
// SIM readiness.
type PollConfig struct {
	Interval   time.Duration
	Timeout    time.Duration
	MaxRetries int
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection and runs the initialization
// sequence (echo off, numeric errors, SIM PIN, PDU mode, message
// indications).
//
// Returns an error if the transport connection or modem initialization
// fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	m := &Modem{
		transport: transport,
		framer:    at.NewFramer(transport),
		config:    config,
		log:       config.Logger,
		collector: pdu.NewCollector(config.ReassemblyTTL),
		listeners: newListeners(),
		commands:  make(chan *commandRequest),
		events:    make(chan Event, 100),
	}

	initCtx := ctx
	if config.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.InitTimeout)
		defer cancel()
	}

	if err := m.init(initCtx); err != nil {
		if transport != nil {
			transport.Close()
		}
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	return m, nil
}

// Serve runs the modem until ctx is cancelled or the transport fails:
// the protocol event loop, the notification dispatcher, the incoming
// message pipeline and, when configured, the signal quality poller.
func (m *Modem) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Loop(ctx) })
	g.Go(func() error { return m.watch(ctx) })
	return g.Wait()
}

// Loop is the protocol event loop. It must run before submissions are
// made and is the only goroutine touching the transport:
//
//  1. Writes submitted AT commands (and prompt continuations) to the transport
//  2. Reads frames and accumulates response lines for the pending command
//  3. Resolves the pending command on its terminal line
//  4. Routes URCs to the dispatcher without blocking on listeners
//  5. Consumes and discards the late response of an abandoned command
//
// Most callers use Serve instead, which also runs the incoming message
// pipeline.
func (m *Modem) Loop(ctx context.Context) error {
	m.mu.Lock()
	if m.loopRunning {
		m.mu.Unlock()
		return ErrLoopRunning
	}
	m.loopRunning = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loopRunning = false
		m.mu.Unlock()
	}()

	frames := make(chan at.Frame, 10)
	readErrs := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			frame, err := m.framer.Next()
			if err != nil {
				readErrs <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				// The loop learns of reader exit by frames closing, so an
				// error must always be queued first.
				readErrs <- ctx.Err()
				return
			}
		}
	}()

	// Dispatcher: delivers events to listeners in arrival order, off the
	// protocol loop so a slow listener cannot stall frame processing.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-m.events:
				m.listeners.dispatch(e)
			}
		}
	}()

	var (
		state         engineState
		current       *commandRequest
		parked        *commandRequest
		lines         []string
		promptWritten bool
		drainEsc      bool
	)

	// drainTimer bounds the engineDraining state.
	drainTimer := time.NewTimer(time.Hour)
	drainTimer.Stop()
	defer drainTimer.Stop()

	resolve := func(resp commandResponse) {
		current.respChan <- resp
		current = nil
		lines = nil
		state = engineIdle
	}

	abandon := func(err error) {
		timeout := current.timeout
		// A prompt command dropped before its body was sent leaves the
		// modem in body entry once the prompt shows up; remember to back
		// out of it.
		drainEsc = current.expectPrompt && !promptWritten
		resolve(commandResponse{err: err})
		state = engineDraining
		drainTimer.Reset(timeout)
		m.log.Debug("command abandoned, draining late response", "error", err)
	}

	// start writes req's command line and makes it the outstanding
	// command. An expired caller context fails without touching the wire.
	start := func(req *commandRequest) error {
		if err := req.ctx.Err(); err != nil {
			req.respChan <- commandResponse{err: timeoutErr(req, err)}
			return nil
		}
		wire := strings.TrimSpace(req.cmd) + "\r"
		if _, err := m.transport.Write([]byte(wire)); err != nil {
			req.respChan <- commandResponse{err: m.fail(err)}
			return fmt.Errorf("write command %q: %w", req.cmd, err)
		}
		current = req
		lines = nil
		promptWritten = false
		state = engineAwaiting
		return nil
	}

	// leaveDrain returns to idle and launches a submission parked while
	// the drain was in progress.
	leaveDrain := func() error {
		drainTimer.Stop()
		state = engineIdle
		drainEsc = false
		if parked == nil {
			return nil
		}
		req := parked
		parked = nil
		return start(req)
	}

	for {
		// The pending command's cancellation is only armed while one is
		// actually outstanding; likewise for a parked submission.
		var curDone <-chan struct{}
		if state == engineAwaiting {
			curDone = current.ctx.Done()
		}
		var parkedDone <-chan struct{}
		if parked != nil {
			parkedDone = parked.ctx.Done()
		}

		select {
		case <-ctx.Done():
			if current != nil {
				resolve(commandResponse{err: ctx.Err()})
			}
			if parked != nil {
				parked.respChan <- commandResponse{err: ctx.Err()}
			}
			return ctx.Err()

		case req := <-m.commands:
			switch state {
			case engineIdle:
				if err := start(req); err != nil {
					return err
				}
			case engineDraining:
				// The previous command's late response is still due. A
				// drain is a stall, not a failure: hold the submission
				// and launch it once the drain resolves.
				if parked == nil {
					parked = req
					continue
				}
				req.respChan <- commandResponse{err: ErrCommandPending}
			default:
				// Serialization violation: refuse without writing.
				req.respChan <- commandResponse{err: ErrCommandPending}
			}

		case <-curDone:
			abandon(timeoutErr(current, current.ctx.Err()))

		case <-parkedDone:
			parked.respChan <- commandResponse{err: timeoutErr(parked, parked.ctx.Err())}
			parked = nil

		case <-drainTimer.C:
			if state == engineDraining {
				// The late response never came; give up waiting for it.
				m.log.Warn("drain period elapsed without a terminal response")
				if err := leaveDrain(); err != nil {
					return err
				}
			}

		case frame, ok := <-frames:
			if !ok {
				err := <-readErrs
				if ctx.Err() != nil {
					// Reader exited because the loop context was
					// cancelled, not because the transport broke.
					if current != nil {
						resolve(commandResponse{err: ctx.Err()})
					}
					if parked != nil {
						parked.respChan <- commandResponse{err: ctx.Err()}
					}
					return ctx.Err()
				}
				broken := m.fail(err)
				if current != nil {
					resolve(commandResponse{err: broken})
				}
				if parked != nil {
					parked.respChan <- commandResponse{err: broken}
					parked = nil
				}
				return fmt.Errorf("transport read: %w", err)
			}

			switch frame.Type {
			case at.FramePrompt:
				if state == engineAwaiting && current.expectPrompt && !promptWritten {
					if _, err := m.transport.Write([]byte(current.payload + at.CtrlZ)); err != nil {
						resolve(commandResponse{err: m.fail(err)})
						return fmt.Errorf("write payload: %w", err)
					}
					promptWritten = true
					continue
				}
				if state == engineDraining && drainEsc {
					// The abandoned command's prompt arrived late; cancel
					// the body entry the modem now expects.
					if _, err := m.transport.Write([]byte(at.Esc)); err != nil {
						broken := m.fail(err)
						if parked != nil {
							parked.respChan <- commandResponse{err: broken}
							parked = nil
						}
						return fmt.Errorf("cancel prompt: %w", err)
					}
					drainEsc = false
					continue
				}
				m.log.Warn("unexpected prompt, discarding")

			case at.FrameBinary:
				if state == engineAwaiting {
					lines = append(lines, frame.Text())
				}

			case at.FrameLine:
				line := frame.Text()
				if line == "" {
					continue
				}

				switch at.Classify(line) {
				case at.TypeURC:
					// URCs may interleave with a pending response; they
					// are always routed to listeners and never touch the
					// pending command's accumulator.
					m.emit(parseURC(line))

				case at.TypeFinal:
					switch state {
					case engineAwaiting:
						if line == at.OK {
							resolve(commandResponse{lines: lines})
						} else {
							resolve(commandResponse{lines: lines, err: parseModemError(line)})
						}
					case engineDraining:
						m.log.Debug("discarding stale terminal response", "line", line)
						if err := leaveDrain(); err != nil {
							return err
						}
					default:
						m.log.Warn("orphaned terminal response, discarding", "line", line)
					}

				case at.TypeData:
					if state == engineAwaiting {
						lines = append(lines, line)
					} else if state == engineIdle && strings.HasPrefix(line, at.UrcSignal) {
						// Some modems autoreport +CSQ. While a command is
						// pending the line belongs to its response, and a
						// draining one is stale; only idle is it a signal
						// quality notification.
						if percent, ok := parseCSQ([]string{line}); ok {
							m.emit(SignalEvent{Percent: percent})
						}
					} else {
						// Matches neither a terminal token nor a known
						// URC prefix: protocol noise. Log and resync.
						m.log.Warn("unexpected line, discarding", "line", line)
					}
				}
			}
		}
	}
}

// emit queues an event for the dispatcher. A nil event is ignored; a full
// queue drops the event rather than stalling the protocol loop.
func (m *Modem) emit(e Event) {
	if e == nil {
		return
	}
	select {
	case m.events <- e:
	default:
		m.log.Warn("event queue full, dropping notification")
	}
}

// fail records a transport failure and broadcasts the disconnect to
// listeners exactly once. Returns the error submissions fail with.
func (m *Modem) fail(err error) error {
	m.mu.Lock()
	if m.broken != nil {
		broken := m.broken
		m.mu.Unlock()
		return broken
	}
	m.broken = fmt.Errorf("%w: %w", ErrTransportClosed, err)
	broken := m.broken
	m.mu.Unlock()

	// Dispatch synchronously: the loop is going down and the event must
	// not be lost to a cancelled dispatcher.
	m.listeners.dispatch(DisconnectEvent{Err: broken})
	return broken
}

// timeoutErr maps the caller context's termination to the engine error
// taxonomy: an elapsed deadline is ErrTimeout, an explicit cancellation
// stays context.Canceled.
func timeoutErr(req *commandRequest, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("command %q: %w", req.cmd, ErrTimeout)
	}
	return err
}

// submit sends one command through the Loop and waits for its outcome.
// The timeout is applied as a deadline on top of ctx; a zero or negative
// timeout fails with ErrTimeout before anything is written.
func (m *Modem) submit(ctx context.Context, cmd, payload string, expectPrompt bool, timeout time.Duration) ([]string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	if m.broken != nil {
		broken := m.broken
		m.mu.Unlock()
		return nil, broken
	}
	m.mu.Unlock()

	if m.transport == nil {
		return nil, ErrNotInitialized
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &commandRequest{
		cmd:          cmd,
		payload:      payload,
		expectPrompt: expectPrompt,
		timeout:      timeout,
		ctx:          cctx,
		respChan:     make(chan commandResponse, 1), // Buffered to prevent blocking
	}

	if err := cctx.Err(); err != nil {
		return nil, timeoutErr(req, err)
	}

	select {
	case m.commands <- req:
	case <-cctx.Done():
		return nil, timeoutErr(req, cctx.Err())
	}

	select {
	case resp := <-req.respChan:
		return resp.lines, resp.err
	case <-cctx.Done():
		// The Loop observes the same context and enters its drain state.
		return nil, timeoutErr(req, cctx.Err())
	}
}

// exec runs a plain command with the configured default timeout,
// serialized against the other high-level operations.
func (m *Modem) exec(ctx context.Context, cmd string) ([]string, error) {
	m.execMu.Lock()
	defer m.execMu.Unlock()
	return m.submit(ctx, cmd, "", false, m.config.ATTimeout)
}

// ExecuteRawCommand submits an arbitrary AT command with an explicit
// response timeout and returns the raw response lines.
func (m *Modem) ExecuteRawCommand(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	m.execMu.Lock()
	defer m.execMu.Unlock()
	return m.submit(ctx, cmd, "", false, timeout)
}

// Close shuts down the modem and releases the transport. After Close the
// modem cannot be reused.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// init performs the initial setup sequence for the modem hardware.
// Runs before the Loop exists, so commands go directly over the framer.
func (m *Modem) init(ctx context.Context) error {
	// 1. Wake-up / sanity check
	if err := m.expectOkDirect(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if err := m.expectOkDirect(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}

	// Numeric error codes so +CMS/+CME lines carry a parseable code.
	if err := m.expectOkDirect(ctx, at.CmdNumericErrors); err != nil {
		return fmt.Errorf("could not enable numeric errors: %w", err)
	}

	simStatus, err := m.execDirect(ctx, at.CmdSimStatus)
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch {
	case containsLine(simStatus, at.SimReady):
		// OK

	case containsLine(simStatus, at.SimPin):
		if m.config.SimPIN == "" {
			return ErrSIMPinRequired
		}
		if err := m.expectOkDirect(ctx, fmt.Sprintf(`AT+CPIN="%s"`, m.config.SimPIN)); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}
		if err := m.waitForSIMReady(ctx, PollConfig{}); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported SIM state: %q", simStatus)
	}

	// PDU mode: all message traffic uses hex-encoded TPDUs.
	if err := m.expectOkDirect(ctx, at.CmdSetPduMode); err != nil {
		return fmt.Errorf("set PDU mode: %w", err)
	}

	// Route new-message indications to the host.
	if err := m.expectOkDirect(ctx, at.CmdNewMsgInd); err != nil {
		return fmt.Errorf("enable message indications: %w", err)
	}

	if err := m.expectOkDirect(ctx, at.CmdSelectService); err != nil {
		return fmt.Errorf("select messaging service: %w", err)
	}

	return nil
}

// execDirect executes an AT command directly on the transport without
// involving the Loop. Used only during initialization; URCs arriving at
// this point are discarded.
func (m *Modem) execDirect(ctx context.Context, cmd string) ([]string, error) {
	if m.transport == nil {
		return nil, ErrNotInitialized
	}

	if _, ok := ctx.Deadline(); !ok && m.config.ATTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ATTimeout)
		defer cancel()
	}

	wire := strings.TrimSpace(cmd) + "\r"
	if _, err := m.transport.Write([]byte(wire)); err != nil {
		return nil, fmt.Errorf("write command %q: %w", cmd, err)
	}

	var lines []string
	for {
		select {
		case <-ctx.Done():
			return lines, timeoutCtx(cmd, ctx.Err())
		default:
		}

		frame, err := m.framer.Next()
		if err != nil {
			return lines, fmt.Errorf("read response: %w", err)
		}
		if frame.Type != at.FrameLine {
			continue
		}
		line := frame.Text()
		if line == "" {
			continue
		}

		switch at.Classify(line) {
		case at.TypeFinal:
			if line == at.OK {
				return lines, nil
			}
			return lines, parseModemError(line)
		case at.TypeData:
			lines = append(lines, line)
		case at.TypeURC:
			continue
		}
	}
}

func timeoutCtx(cmd string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("command %q: %w", cmd, ErrTimeout)
	}
	return err
}

// expectOkDirect executes a command that should simply return OK.
func (m *Modem) expectOkDirect(ctx context.Context, cmd string) error {
	_, err := m.execDirect(ctx, cmd)
	return err
}

// waitForSIMReady polls the SIM status until it reports ready. Necessary
// after entering a PIN, as the card needs time to authenticate.
func (m *Modem) waitForSIMReady(ctx context.Context, config PollConfig) error {
	pollInterval := config.Interval
	timeout := config.Timeout
	maxRetries := config.MaxRetries

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("SIM not ready after %d retries", maxRetries)
			}
			lines, err := m.execDirect(ctx, at.CmdSimStatus)
			if err != nil {
				if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotInitialized) {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if containsLine(lines, at.SimReady) {
				return nil
			}
		}
	}
}

func containsLine(lines []string, want string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, want) {
			return true
		}
	}
	return false
}
