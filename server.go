package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"i4.energy/across/gsmmodem/modem"
)

// gateway is the subset of the modem surface the HTTP and MQTT frontends
// need, so handlers can be tested against a stub.
type gateway interface {
	SendMessage(ctx context.Context, recipient, text string, opts modem.SendOptions) (modem.SendResult, error)
	PollSignalQuality(ctx context.Context) (int, error)
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Modem  gateway
	// Token, when non-empty, is required as a bearer token on /sms
	Token string
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /signal", s.handleSignal)
	mux.HandleFunc("POST /sms", s.handleSMS)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.Token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.Token
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleSignal reports the current signal quality as a percentage
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	percent, err := s.Modem.PollSignalQuality(r.Context())
	if err != nil {
		s.Logger.Error("Failed to poll signal quality", "error", err)
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}

	type SignalResponse struct {
		Percent int `json:"percent"`
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SignalResponse{Percent: percent})
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	type SMSRequest struct {
		To      string `json:"to"`
		Message string `json:"message"`
		Flash   bool   `json:"flash,omitempty"`
	}

	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	result, err := s.Modem.SendMessage(r.Context(), req.To, req.Message, modem.SendOptions{Flash: req.Flash})
	if err != nil {
		s.Logger.Error("Failed to send SMS", "error", err, "to", req.To, "segments_sent", result.Sent())
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.Logger.Info("SMS sent successfully",
		"to", req.To, "message_length", len(req.Message), "segments", len(result.Segments))

	type SMSResponse struct {
		Segments int `json:"segments"`
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SMSResponse{Segments: len(result.Segments)})
}
