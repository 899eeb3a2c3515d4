package modem

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/gsmmodem/at"
	"i4.energy/across/gsmmodem/pdu"
)

// SendOptions adjust how an outgoing message is encoded.
type SendOptions struct {
	// Flash sends the message as class 0: displayed immediately on the
	// recipient's device instead of being stored.
	Flash bool
	// StatusReport requests a delivery report from the service center.
	StatusReport bool
}

// SegmentStatus is the per-segment outcome of a send.
type SegmentStatus struct {
	Seq int
	Of  int
	// MessageRef is the reference the modem assigned (+CMGS response),
	// -1 if the segment was not accepted.
	MessageRef int
	Err        error
}

// SendResult reports how many segments a message was split into and how
// each fared.
type SendResult struct {
	Segments []SegmentStatus
}

// Sent returns the number of segments the network accepted.
func (r SendResult) Sent() int {
	n := 0
	for _, s := range r.Segments {
		if s.Err == nil {
			n++
		}
	}
	return n
}

// SendMessage encodes text as one or more PDUs and submits them with
// AT+CMGS. The alphabet is selected automatically; long texts are split
// into concatenated parts when Config.Concatenate allows it.
//
// SendMessage blocks until every segment is accepted by the network or one
// fails; delivery to the final recipient happens asynchronously. On
// failure the returned SendResult still describes the segments already
// sent, so the caller can decide whether re-sending risks duplicates.
func (m *Modem) SendMessage(ctx context.Context, recipient, text string, opts SendOptions) (SendResult, error) {
	segments, err := pdu.Encode(pdu.Submit{
		Recipient:    recipient,
		Text:         text,
		Flash:        opts.Flash,
		StatusReport: opts.StatusReport,
	})
	if err != nil {
		return SendResult{}, err
	}
	if len(segments) > 1 && !m.config.Concatenate {
		return SendResult{}, &pdu.CodecError{
			Field: "text",
			Msg:   fmt.Sprintf("needs %d segments but concatenation is disabled", len(segments)),
		}
	}

	var result SendResult
	for _, seg := range segments {
		status := SegmentStatus{Seq: seg.Seq, Of: seg.Of, MessageRef: -1}
		if seg.Of == 0 {
			status.Seq, status.Of = 1, 1
		}

		lines, err := m.execSMS(ctx, fmt.Sprintf("AT+CMGS=%d", seg.TPDULen), seg.Hex)
		if err != nil {
			status.Err = err
			result.Segments = append(result.Segments, status)
			return result, fmt.Errorf("send segment %d/%d: %w", status.Seq, status.Of, err)
		}
		status.MessageRef = parseCMGS(lines)
		result.Segments = append(result.Segments, status)
	}
	return result, nil
}

// execSMS runs the two-phase submit: command line, wait for the "> "
// prompt, then the hex payload terminated with Ctrl-Z.
func (m *Modem) execSMS(ctx context.Context, cmd, payload string) ([]string, error) {
	m.execMu.Lock()
	defer m.execMu.Unlock()
	return m.submit(ctx, cmd, payload, true, m.config.ATTimeout)
}

// parseCMGS extracts the assigned message reference from a "+CMGS: <mr>"
// line, -1 if absent.
func parseCMGS(lines []string) int {
	for _, line := range lines {
		if !strings.HasPrefix(line, "+CMGS:") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "+CMGS:"))
		if mr, err := strconv.Atoi(strings.SplitN(rest, ",", 2)[0]); err == nil {
			return mr
		}
	}
	return -1
}

// ReadMessage reads and decodes the PDU stored at the given index.
// The returned message carries the storage index for later deletion.
// A fragment of a concatenated message has Concat set; feed it to the
// reassembly pipeline rather than surfacing its text directly.
func (m *Modem) ReadMessage(ctx context.Context, index int) (*pdu.Deliver, error) {
	lines, err := m.exec(ctx, fmt.Sprintf("AT+CMGR=%d", index))
	if err != nil {
		return nil, err
	}

	for i, line := range lines {
		if !strings.HasPrefix(line, "+CMGR:") {
			continue
		}
		if i+1 >= len(lines) {
			return nil, &pdu.CodecError{Field: "pdu", Msg: "missing PDU line after +CMGR"}
		}
		msg, err := pdu.Decode(strings.TrimSpace(lines[i+1]))
		if err != nil {
			return nil, err
		}
		msg.Index = index
		return msg, nil
	}
	return nil, &pdu.CodecError{Field: "pdu", Msg: fmt.Sprintf("no +CMGR response for index %d", index)}
}

// DeleteMessage removes the message at the given storage index.
func (m *Modem) DeleteMessage(ctx context.Context, index int) error {
	_, err := m.exec(ctx, fmt.Sprintf("AT+CMGD=%d", index))
	return err
}

// PollSignalQuality issues AT+CSQ once and reports the result as a
// percentage, -1 when the modem cannot measure it.
func (m *Modem) PollSignalQuality(ctx context.Context) (int, error) {
	lines, err := m.exec(ctx, at.CmdSignal)
	if err != nil {
		return 0, err
	}
	percent, ok := parseCSQ(lines)
	if !ok {
		return 0, fmt.Errorf("unparseable +CSQ response: %q", lines)
	}
	return percent, nil
}

// watch drives the asynchronous half of the modem: it turns new-message
// indications into decoded messages, polls signal quality, and evicts
// stale multipart fragments. Runs alongside Loop; see Serve.
func (m *Modem) watch(ctx context.Context) error {
	indications := make(chan NewMessageEvent, 32)
	remove := m.OnEvent(func(e Event) {
		if ev, ok := e.(NewMessageEvent); ok {
			select {
			case indications <- ev:
			default:
				// Backlogged; the slot stays in modem storage and can be
				// recovered by a manual ReadMessage.
			}
		}
	})
	defer remove()

	var signalTick <-chan time.Time
	if m.config.SignalPollInterval > 0 {
		ticker := time.NewTicker(m.config.SignalPollInterval)
		defer ticker.Stop()
		signalTick = ticker.C
	}

	sweep := time.NewTicker(m.sweepInterval())
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-indications:
			m.fetchMessage(ctx, ev)

		case <-signalTick:
			percent, err := m.PollSignalQuality(ctx)
			if err != nil {
				m.log.Warn("signal poll failed", "error", err)
				continue
			}
			m.emit(SignalEvent{Percent: percent})

		case <-sweep.C:
			m.sweepCollector(ctx)
		}
	}
}

func (m *Modem) sweepInterval() time.Duration {
	ttl := m.config.ReassemblyTTL
	if ttl <= 0 {
		ttl = pdu.DefaultReassemblyTTL
	}
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// fetchMessage reads a newly stored message, feeds it through reassembly
// and surfaces the result. Decode failures are reported as events, never
// silently dropped.
func (m *Modem) fetchMessage(ctx context.Context, ev NewMessageEvent) {
	msg, err := m.ReadMessage(ctx, ev.Index)
	if err != nil {
		m.log.Error("read incoming message failed",
			"index", ev.Index, "storage", ev.Storage, "error", err)
		m.emit(ErrorEvent{Err: fmt.Errorf("message at index %d: %w", ev.Index, err)})
		if m.config.DeleteOnReceive {
			// Evict the defective slot so it cannot wedge the storage.
			m.deleteSlots(ctx, []int{ev.Index})
		}
		return
	}

	result := m.collector.Add(msg)
	if result == nil {
		return
	}
	m.surface(ctx, result)
}

// sweepCollector expires stale multipart fragments. Depending on
// configuration the partial text is surfaced tagged incomplete, or only
// logged and discarded.
func (m *Modem) sweepCollector(ctx context.Context) {
	for _, result := range m.collector.Sweep() {
		if !m.config.EmitPartial {
			m.log.Warn("discarding incomplete multipart message",
				"sender", result.Message.Sender, "missing", result.Missing)
			if m.config.DeleteOnReceive {
				m.deleteSlots(ctx, result.Indexes)
			}
			continue
		}
		m.surface(ctx, result)
	}
}

func (m *Modem) surface(ctx context.Context, result *pdu.Result) {
	m.emit(MessageEvent{Message: Message{
		Sender:     result.Message.Sender,
		Time:       result.Message.Timestamp,
		Text:       result.Message.Text,
		Incomplete: result.Incomplete,
		Missing:    result.Missing,
	}})
	if m.config.DeleteOnReceive {
		m.deleteSlots(ctx, result.Indexes)
	}
}

func (m *Modem) deleteSlots(ctx context.Context, indexes []int) {
	for _, index := range indexes {
		if err := m.DeleteMessage(ctx, index); err != nil {
			m.log.Warn("delete received message failed", "index", index, "error", err)
		}
	}
}
