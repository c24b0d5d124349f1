package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/tracepad/tracepad"
)

// scriptProvider replays canned responses.
type scriptProvider struct {
	responses []tracepad.ChatResponse
	calls     int
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Chat(ctx context.Context, req tracepad.ChatRequest) (tracepad.ChatResponse, error) {
	if p.calls >= len(p.responses) {
		return tracepad.ChatResponse{Content: "done"}, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

// fakeSessions records registry calls.
type fakeSessions struct {
	conv    *tracepad.Conversation
	started []string
	cleared []string
	resets  int
	inits   int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{conv: &tracepad.Conversation{}}
}

func (f *fakeSessions) Conversation(userID string) *tracepad.Conversation { return f.conv }
func (f *fakeSessions) ClearMessages(userID string) {
	f.cleared = append(f.cleared, userID)
	f.conv = &tracepad.Conversation{}
}
func (f *fakeSessions) ResetSandbox(ctx context.Context, userID string) { f.resets++ }
func (f *fakeSessions) InitSandbox(userID string)                       { f.inits++ }
func (f *fakeSessions) SessionStart(userID string) {
	f.started = append(f.started, userID)
	f.conv = &tracepad.Conversation{}
}

func newTestServer(provider tracepad.Provider) (*Server, *fakeSessions) {
	sessions := newFakeSessions()
	agent := tracepad.NewAgent(provider, tracepad.NewToolRegistry())
	return NewServer(agent, sessions, []byte("test-secret")), sessions
}

func TestIndexStartsSession(t *testing.T) {
	srv, sessions := newTestServer(&scriptProvider{})
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`id="chat-container"`, `id="trace-container"`, `id="response-area"`, `id="token-count"`} {
		if !strings.Contains(body, want) {
			t.Errorf("shell missing %s", want)
		}
	}
	if len(sessions.started) != 1 {
		t.Errorf("session starts = %d, want 1", len(sessions.started))
	}
	cookie := rec.Result().Cookies()
	if len(cookie) != 1 || cookie[0].Name != userCookie {
		t.Errorf("cookies = %v", cookie)
	}
}

func TestCookieIdentityStable(t *testing.T) {
	srv, sessions := newTestServer(&scriptProvider{})
	h := srv.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookie)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if len(sessions.started) != 2 || sessions.started[0] != sessions.started[1] {
		t.Errorf("user ids across requests = %v", sessions.started)
	}
}

func TestTamperedCookieReissued(t *testing.T) {
	srv, sessions := newTestServer(&scriptProvider{})
	h := srv.Routes()

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: userCookie, Value: "not-a-token"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) != 1 {
		t.Error("tampered cookie not reissued")
	}
	if len(sessions.started) != 1 {
		t.Errorf("session starts = %d", len(sessions.started))
	}
}

func postChat(t *testing.T, h http.Handler, message string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"message": {message}}
	req := httptest.NewRequest("POST", "/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatEmptyMessageNoOp(t *testing.T) {
	srv, sessions := newTestServer(&scriptProvider{})
	rec := postChat(t, srv.Routes(), "   \n ")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(sessions.conv.Messages) != 0 {
		t.Error("whitespace message was appended")
	}
}

func TestChatAppendsAndSubscribes(t *testing.T) {
	srv, sessions := newTestServer(&scriptProvider{})
	rec := postChat(t, srv.Routes(), "plot sin(x)")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(sessions.conv.Messages) != 1 || sessions.conv.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", sessions.conv.Messages)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `sse-connect="/agent-stream"`) {
		t.Error("response missing SSE subscription")
	}
	if !strings.Contains(body, "plot sin(x)") {
		t.Error("response missing user bubble")
	}
	if !strings.Contains(body, `beforeend:#trace-container`) {
		t.Error("response missing trace update")
	}
}

func TestChatNormalizesNFC(t *testing.T) {
	srv, sessions := newTestServer(&scriptProvider{})
	// "e" followed by combining acute accent; NFC composes to one rune.
	postChat(t, srv.Routes(), "cafe\u0301")
	got := sessions.conv.Messages[0].Content
	if got != "caf\u00e9" {
		t.Errorf("content = %q, want composed form", got)
	}
}

func TestClearResetsEverything(t *testing.T) {
	srv, sessions := newTestServer(&scriptProvider{})
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/clear", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(sessions.cleared) != 1 || sessions.resets != 1 || sessions.inits != 1 {
		t.Errorf("cleared=%d resets=%d inits=%d", len(sessions.cleared), sessions.resets, sessions.inits)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "0 tokens") {
		t.Error("token counter not reset")
	}
}

func TestAgentStreamEndsWithClose(t *testing.T) {
	provider := &scriptProvider{responses: []tracepad.ChatResponse{
		{Content: "The answer is 42.", Usage: tracepad.Usage{TotalTokens: 12}},
	}}
	srv, sessions := newTestServer(provider)
	sessions.conv.Messages = append(sessions.conv.Messages, tracepad.UserMessage("6*7?"))

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/agent-stream", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "event: AgentEvent") {
		t.Error("no AgentEvent in stream")
	}
	if !strings.Contains(body, "12 tokens") {
		t.Error("usage event not rendered")
	}
	if !strings.Contains(body, "The answer is 42.") {
		t.Error("final response not rendered")
	}
	idx := strings.LastIndex(body, "event: close")
	if idx == -1 {
		t.Fatal("stream not terminated by close event")
	}
	if strings.Contains(body[idx:], "event: AgentEvent") {
		t.Error("events after close")
	}
}

func TestAgentStreamRendersToolTrace(t *testing.T) {
	provider := &scriptProvider{responses: []tracepad.ChatResponse{
		{ToolCalls: []tracepad.ToolCall{{ID: "call_1", Name: "missing_tool", Args: []byte(`{}`)}}},
		{Content: "recovered"},
	}}
	srv, sessions := newTestServer(provider)
	sessions.conv.Messages = append(sessions.conv.Messages, tracepad.UserMessage("go"))

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/agent-stream", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "missing_tool") {
		t.Error("tool call not in trace")
	}
	if !strings.Contains(body, "call_1") {
		t.Error("tool call id not in trace")
	}
	if !strings.Contains(body, "recovered") {
		t.Error("final response missing")
	}
}
