// Package tracepad is an interactive agent runtime that couples a tool-using
// LLM loop to a detached, persistent code-execution sandbox per user.
//
// The runtime drives a think→act→observe loop: it calls the model gateway,
// dispatches any tool calls the model emits (principally code execution),
// feeds results back, and emits every intermediate message as an ordered
// event stream that the web layer renders live over Server-Sent Events.
//
// # Architecture
//
//   - [Agent] — the turn loop: model call, tool dispatch, usage accounting,
//     message-history mutation, event emission
//   - [Provider] — the model gateway ([provider/openaicompat] implements it)
//   - [Tool] / [ToolRegistry] — pluggable capabilities (tools/runcode bridges
//     into the sandbox, tools/weather is a canned demo tool)
//   - [CodeRunner] — the per-user handle to a remote execution process
//     (package sandbox provides the file-protocol controller and a Docker
//     process host; cmd/sandbox-driver is the in-sandbox side)
//   - internal/session — per-user (sandbox, conversation) registry with TTL
//   - internal/web — the HTTP/SSE surface and UI fragments
//
// The agent loop is the only component that mutates a conversation; the
// sandbox controller is the only component that touches a remote process.
package tracepad
