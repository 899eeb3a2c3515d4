package at

import (
	"bytes"
	"io"
	"sync"
)

// FrameType discriminates the kinds of frames produced by a Framer.
type FrameType int

const (
	// FrameLine is a CRLF-terminated text line with the terminator stripped.
	FrameLine FrameType = iota
	// FramePrompt is the SMS body prompt ("> "). It is emitted as its own
	// frame type so the command engine can react to it without mistaking it
	// for a terminal response.
	FramePrompt
	// FrameBinary is an opaque run of raw bytes read in binary mode,
	// regardless of any embedded CR/LF bytes.
	FrameBinary
)

// Frame is a single decoded unit of modem output. Immutable once produced.
type Frame struct {
	Type FrameType
	Data []byte
}

// Text returns the frame payload as a string.
func (f Frame) Text() string {
	return string(f.Data)
}

// Framer splits the raw modem byte stream into discrete frames.
//
// It handles CRLF-terminated lines, the interactive SMS prompt, and an
// optional binary mode in which the next N raw bytes plus the Ctrl-Z
// terminator form one opaque frame. Partial trailing bytes are never
// dropped across read boundaries; they are retained and prefixed to the
// next chunk.
//
// A Framer assumes "No Echo" mode (ATE0). With echo enabled, command
// echoes would precede responses and would need additional handling.
type Framer struct {
	r   io.Reader
	buf bytes.Buffer
	tmp []byte

	mu     sync.Mutex
	binary int // >0: bytes remaining to capture as one binary frame
}

// NewFramer returns a Framer reading from r.
func NewFramer(r io.Reader) *Framer {
	return &Framer{
		r:   r,
		tmp: make([]byte, 4096),
	}
}

// ExpectBinary arms binary mode: the next n raw bytes, followed by the
// Ctrl-Z terminator byte, are emitted as a single FrameBinary frame.
// The terminator is consumed but not included in the frame payload.
func (f *Framer) ExpectBinary(n int) {
	f.mu.Lock()
	f.binary = n
	f.mu.Unlock()
}

// Next returns the next frame from the stream. It blocks until a complete
// frame is available or the underlying reader fails. On end of stream any
// retained partial line is emitted as a final FrameLine before io.EOF.
func (f *Framer) Next() (Frame, error) {
	for {
		if frame, ok := f.scan(); ok {
			return frame, nil
		}

		n, err := f.r.Read(f.tmp)
		if n > 0 {
			f.buf.Write(f.tmp[:n])
			continue
		}
		if err != nil {
			// Flush whatever is left as a final line.
			if f.buf.Len() > 0 {
				data := append([]byte(nil), f.buf.Bytes()...)
				f.buf.Reset()
				return Frame{Type: FrameLine, Data: data}, nil
			}
			return Frame{}, err
		}
	}
}

// scan attempts to cut one frame off the front of the buffer.
func (f *Framer) scan() (Frame, bool) {
	data := f.buf.Bytes()
	if len(data) == 0 {
		return Frame{}, false
	}

	f.mu.Lock()
	binary := f.binary
	f.mu.Unlock()

	if binary > 0 {
		// Need the payload plus the trailing Ctrl-Z.
		if len(data) < binary+1 {
			return Frame{}, false
		}
		payload := append([]byte(nil), data[:binary]...)
		consume := binary
		if data[binary] == CtrlZ[0] {
			consume++
		}
		f.buf.Next(consume)
		f.mu.Lock()
		f.binary = 0
		f.mu.Unlock()
		return Frame{Type: FrameBinary, Data: payload}, true
	}

	// The prompt arrives without a line terminator.
	if bytes.HasPrefix(data, []byte(Prompt)) {
		f.buf.Next(len(Prompt))
		return Frame{Type: FramePrompt, Data: []byte(Prompt)}, true
	}

	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		line := append([]byte(nil), data[:i]...)
		f.buf.Next(i + len(CRLF))
		return Frame{Type: FrameLine, Data: line}, true
	}

	return Frame{}, false
}
