// Package web serves the chat UI: an HTMX front end over the agent loop,
// with server-sent events carrying each turn's trace into the browser.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tracepad/tracepad"
)

// flushPacing is the pause after writing each SSE event so the transport
// keeps up with bursts of small fragments.
const flushPacing = 10 * time.Millisecond

// Sessions is the slice of the session registry the web layer needs.
type Sessions interface {
	Conversation(userID string) *tracepad.Conversation
	ClearMessages(userID string)
	ResetSandbox(ctx context.Context, userID string)
	InitSandbox(userID string)
	SessionStart(userID string)
}

// Server wires HTTP routes to the agent loop and session registry.
type Server struct {
	agent    *tracepad.Agent
	sessions Sessions
	secret   []byte
	logger   *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the web server. secret signs the session cookie.
func NewServer(agent *tracepad.Agent, sessions Sessions, secret []byte, opts ...ServerOption) *Server {
	s := &Server{
		agent:    agent,
		sessions: sessions,
		secret:   secret,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler for all endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /agent-stream", s.handleAgentStream)
	return mux
}

// handleIndex serves the shell and begins a fresh session: history cleared,
// a sandbox warming in the background, orphans swept.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	uid := s.userID(w, r)
	s.sessions.SessionStart(uid)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "index", nil); err != nil {
		s.logger.Error("render index", "error", err)
	}
}

// handleChat appends the user's message and returns the fragments that show
// it and subscribe the browser to the turn's event stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	uid := s.userID(w, r)

	message := strings.TrimSpace(r.FormValue("message"))
	if message == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// Composed characters arrive in mixed forms from browsers; normalize so
	// history comparisons and model input are stable.
	message = norm.NFC.String(message)

	conv := s.sessions.Conversation(uid)
	userMsg := tracepad.UserMessage(message)
	conv.Messages = append(conv.Messages, userMsg)

	bubble, err := userBubble(message)
	if err != nil {
		s.internalError(w, err)
		return
	}
	trace, err := traceFragment(&userMsg)
	if err != nil {
		s.internalError(w, err)
		return
	}
	thinking, err := fragment("thinking", nil)
	if err != nil {
		s.internalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, bubble, thinking, trace)
}

// handleClear wipes the visible conversation and replaces the sandbox.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	uid := s.userID(w, r)
	s.sessions.ClearMessages(uid)
	s.sessions.ResetSandbox(r.Context(), uid)
	s.sessions.InitSandbox(uid)
	s.logger.Info("session cleared", "user", uid)

	frags := make([]string, 0, 3)
	for _, name := range []string{"chat-reset", "trace-reset"} {
		frag, err := fragment(name, nil)
		if err != nil {
			s.internalError(w, err)
			return
		}
		frags = append(frags, frag)
	}
	tokens, err := fragment("token-count", tokenData{Tokens: 0})
	if err != nil {
		s.internalError(w, err)
		return
	}
	frags = append(frags, tokens)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, strings.Join(frags, ""))
}

// handleAgentStream runs one agent turn and streams its events as SSE. The
// stream always ends with a close event; a dropped client cancels the
// request context, which unwinds the loop at its next suspension point.
func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	uid := s.userID(w, r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := tracepad.WithUserID(r.Context(), uid)
	conv := s.sessions.Conversation(uid)

	events := make(chan tracepad.Event, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.agent.RunTurn(ctx, conv, events)
	}()

	for ev := range events {
		payload, err := renderEvent(ev)
		if err != nil {
			s.logger.Error("render event", "error", err)
			continue
		}
		if payload == "" {
			continue
		}
		writeSSE(w, "AgentEvent", payload)
		flusher.Flush()
		time.Sleep(flushPacing)
	}

	if err := <-errCh; err != nil && ctx.Err() == nil {
		s.logger.Error("agent turn failed", "user", uid, "error", err)
	}

	// Remove the thinking indicator, then tell the client to stop listening.
	if done, err := fragment("thinking-done", nil); err == nil {
		writeSSE(w, "AgentEvent", done)
	}
	writeSSE(w, "close", "")
	flusher.Flush()
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// writeSSE writes one event. Multi-line payloads become multiple data
// fields per the SSE framing rules.
func writeSSE(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
