package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tracepad/tracepad"
)

// fakeRunner counts terminations.
type fakeRunner struct {
	id         string
	terminated atomic.Bool
}

func (f *fakeRunner) Submit(ctx context.Context, code string) (tracepad.ExecResult, error) {
	return tracepad.ExecResult{Stdout: code}, nil
}
func (f *fakeRunner) RemoteID() string              { return f.id }
func (f *fakeRunner) Terminate(ctx context.Context) { f.terminated.Store(true) }

// countingFactory hands out numbered runners and records the remote ids it
// was offered.
type countingFactory struct {
	mu      sync.Mutex
	created []*fakeRunner
	offered []string
}

func (cf *countingFactory) factory(ctx context.Context, remoteID string) (tracepad.CodeRunner, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	cf.offered = append(cf.offered, remoteID)
	r := &fakeRunner{id: fmt.Sprintf("sb-%d", len(cf.created)+1)}
	cf.created = append(cf.created, r)
	return r, nil
}

func (cf *countingFactory) count() int {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return len(cf.created)
}

func (cf *countingFactory) offeredIDs() []string {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return append([]string(nil), cf.offered...)
}

func newTestRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *countingFactory) {
	t.Helper()
	cf := &countingFactory{}
	r := NewRegistry(cf.factory, opts...)
	t.Cleanup(r.Close)
	return r, cf
}

func TestConversationCreatedOnDemand(t *testing.T) {
	r, _ := newTestRegistry(t)
	conv := r.Conversation("alice")
	if conv == nil || len(conv.Messages) != 0 {
		t.Fatalf("conv = %+v", conv)
	}
	conv.Messages = append(conv.Messages, tracepad.UserMessage("hi"))
	if got := r.Conversation("alice"); len(got.Messages) != 1 {
		t.Error("conversation not stable across lookups")
	}
	if got := r.Conversation("bob"); len(got.Messages) != 0 {
		t.Error("conversations not isolated per user")
	}
}

func TestClearMessagesKeepsSandbox(t *testing.T) {
	r, cf := newTestRegistry(t)
	conv := r.Conversation("alice")
	conv.Messages = append(conv.Messages, tracepad.UserMessage("hi"))
	if _, err := r.Sandbox(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}

	r.ClearMessages("alice")
	if len(r.Conversation("alice").Messages) != 0 {
		t.Error("messages not cleared")
	}
	if _, err := r.Sandbox(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if cf.count() != 1 {
		t.Errorf("factory calls = %d, want 1: clear must not touch the sandbox", cf.count())
	}
	if cf.created[0].terminated.Load() {
		t.Error("sandbox terminated by clear")
	}
}

func TestSandboxLazySingleton(t *testing.T) {
	r, cf := newTestRegistry(t)
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rn, err := r.Sandbox(context.Background(), "alice")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = rn.RemoteID()
		}(i)
	}
	wg.Wait()
	if cf.count() != 1 {
		t.Fatalf("factory calls = %d, want 1", cf.count())
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent lookups saw different sandboxes: %v", ids)
		}
	}
}

func TestResetSandbox(t *testing.T) {
	r, cf := newTestRegistry(t)
	if _, err := r.Sandbox(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	r.ResetSandbox(context.Background(), "alice")
	if !cf.created[0].terminated.Load() {
		t.Error("old sandbox not terminated")
	}
	rn, err := r.Sandbox(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rn.RemoteID() == cf.created[0].id {
		t.Error("reset did not produce a fresh sandbox")
	}
}

func TestSandboxOffersRecordedRemoteID(t *testing.T) {
	r, cf := newTestRegistry(t)
	if _, err := r.Sandbox(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}

	// Simulate a dropped handle: the runner is gone but the registry still
	// remembers which remote process it was.
	r.mu.Lock()
	e := r.entries["alice"]
	r.mu.Unlock()
	e.mu.Lock()
	e.runner = nil
	e.mu.Unlock()

	if _, err := r.Sandbox(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	offered := cf.offeredIDs()
	if len(offered) != 2 || offered[0] != "" || offered[1] != "sb-1" {
		t.Fatalf("offered = %v, want [\"\" \"sb-1\"]", offered)
	}
}

func TestResetSandboxForgetsRemoteID(t *testing.T) {
	r, cf := newTestRegistry(t)
	if _, err := r.Sandbox(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	r.ResetSandbox(context.Background(), "alice")
	if _, err := r.Sandbox(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	offered := cf.offeredIDs()
	if len(offered) != 2 || offered[1] != "" {
		t.Fatalf("offered = %v: reset must not leave an id to reattach to", offered)
	}
}

func TestResetSandboxIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.ResetSandbox(context.Background(), "nobody")
}

func TestInitSandboxReplacesAsync(t *testing.T) {
	r, cf := newTestRegistry(t)
	if _, err := r.Sandbox(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	r.InitSandbox("alice")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cf.count() == 2 && cf.created[0].terminated.Load() {
			rn, err := r.Sandbox(context.Background(), "alice")
			if err != nil {
				t.Fatal(err)
			}
			if rn.RemoteID() != "sb-2" {
				t.Fatalf("RemoteID = %q, want sb-2", rn.RemoteID())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("init did not replace the sandbox")
}

func TestSessionStartClearsAndSweeps(t *testing.T) {
	var swept atomic.Bool
	r, cf := newTestRegistry(t, WithSweep(func(ctx context.Context) { swept.Store(true) }))
	conv := r.Conversation("alice")
	conv.Messages = append(conv.Messages, tracepad.UserMessage("old"))

	r.SessionStart("alice")
	if len(r.Conversation("alice").Messages) != 0 {
		t.Error("messages not cleared")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if swept.Load() && cf.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("swept=%v created=%d", swept.Load(), cf.count())
}

func TestSessionStartSweepsBeforeInit(t *testing.T) {
	var mu sync.Mutex
	var events []string
	cf := &countingFactory{}
	r := NewRegistry(
		func(ctx context.Context, remoteID string) (tracepad.CodeRunner, error) {
			mu.Lock()
			events = append(events, "init")
			mu.Unlock()
			return cf.factory(ctx, remoteID)
		},
		WithSweep(func(ctx context.Context) {
			mu.Lock()
			events = append(events, "sweep")
			mu.Unlock()
			time.Sleep(20 * time.Millisecond) // a concurrent init would overtake this
		}),
	)
	t.Cleanup(r.Close)

	r.SessionStart("alice")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != "sweep" || events[1] != "init" {
		t.Fatalf("events = %v, want sweep then init", events)
	}
}

func TestEvictExpiredTerminates(t *testing.T) {
	r, cf := newTestRegistry(t, WithTTL(10*time.Millisecond))
	if _, err := r.Sandbox(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	r.evictExpired()
	if r.Len() != 0 {
		t.Error("expired session not evicted")
	}
	if !cf.created[0].terminated.Load() {
		t.Error("evicted session's sandbox not terminated")
	}
}

func TestCapacityEvictsStalest(t *testing.T) {
	r, _ := newTestRegistry(t, WithCapacity(2))
	r.Conversation("first")
	time.Sleep(2 * time.Millisecond)
	r.Conversation("second")
	time.Sleep(2 * time.Millisecond)
	r.Conversation("third") // evicts "first"
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	r.mu.Lock()
	_, hasFirst := r.entries["first"]
	_, hasThird := r.entries["third"]
	r.mu.Unlock()
	if hasFirst || !hasThird {
		t.Errorf("hasFirst=%v hasThird=%v", hasFirst, hasThird)
	}
}

func TestCloseTerminatesAll(t *testing.T) {
	cf := &countingFactory{}
	r := NewRegistry(cf.factory)
	for _, u := range []string{"a", "b"} {
		if _, err := r.Sandbox(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}
	r.Close()
	for i, fr := range cf.created {
		if !fr.terminated.Load() {
			t.Errorf("runner %d not terminated on close", i)
		}
	}
}
