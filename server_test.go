package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"i4.energy/across/gsmmodem/modem"
)

// stubGateway records the last send and returns canned results.
type stubGateway struct {
	lastTo   string
	lastText string
	lastOpts modem.SendOptions
	result   modem.SendResult
	err      error
	signal   int
}

func (s *stubGateway) SendMessage(_ context.Context, to, text string, opts modem.SendOptions) (modem.SendResult, error) {
	s.lastTo = to
	s.lastText = text
	s.lastOpts = opts
	return s.result, s.err
}

func (s *stubGateway) PollSignalQuality(_ context.Context) (int, error) {
	return s.signal, s.err
}

func newTestServer(stub *stubGateway, token string) *Server {
	return &Server{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Modem:  stub,
		Token:  token,
	}
}

func TestHandleSMS(t *testing.T) {
	t.Run("Valid request sends and reports segment count", func(t *testing.T) {
		stub := &stubGateway{result: modem.SendResult{
			Segments: []modem.SegmentStatus{{Seq: 1, Of: 2, MessageRef: 7}, {Seq: 2, Of: 2, MessageRef: 8}},
		}}
		server := newTestServer(stub, "")

		body := `{"to": "+15551234567", "message": "Hello", "flash": true}`
		req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader(body))
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if stub.lastTo != "+15551234567" || stub.lastText != "Hello" {
			t.Errorf("unexpected send arguments: to=%q text=%q", stub.lastTo, stub.lastText)
		}
		if !stub.lastOpts.Flash {
			t.Error("flash option not forwarded")
		}

		var resp struct {
			Segments int `json:"segments"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("response is not valid JSON: %v", err)
		}
		if resp.Segments != 2 {
			t.Errorf("expected 2 segments reported, got %d", resp.Segments)
		}
	})

	t.Run("Missing fields are rejected", func(t *testing.T) {
		server := newTestServer(&stubGateway{}, "")

		req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader(`{"to": "+15551234567"}`))
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("Malformed JSON is rejected", func(t *testing.T) {
		server := newTestServer(&stubGateway{}, "")

		req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader(`{not json`))
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("Send failure maps to 500", func(t *testing.T) {
		stub := &stubGateway{err: errors.New("modem unavailable")}
		server := newTestServer(stub, "")

		body := `{"to": "+15551234567", "message": "Hello"}`
		req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader(body))
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})

	t.Run("Bearer token is enforced", func(t *testing.T) {
		server := newTestServer(&stubGateway{}, "secret")
		body := `{"to": "+15551234567", "message": "Hello"}`

		req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader(body))
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 without token, got %d", rec.Code)
		}

		req = httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer secret")
		rec = httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 with token, got %d", rec.Code)
		}
	})
}

func TestHandleSignal(t *testing.T) {
	server := newTestServer(&stubGateway{signal: 74}, "")

	req := httptest.NewRequest(http.MethodGet, "/signal", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Percent int `json:"percent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.Percent != 74 {
		t.Errorf("expected 74%%, got %d%%", resp.Percent)
	}
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(&stubGateway{}, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
