package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"azure-openai-relay/pkg/oai"
)

// fakeClient is a scriptable UpstreamClient.
type fakeClient struct {
	completeFn func(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams) (string, error)
	streamFn   func(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams) (<-chan oai.StreamEvent, error)
}

func (f *fakeClient) Complete(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams) (string, error) {
	return f.completeFn(ctx, messages, params)
}

func (f *fakeClient) CompleteStream(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams) (<-chan oai.StreamEvent, error) {
	return f.streamFn(ctx, messages, params)
}

// contentChunk builds a delta chunk carrying one content fragment.
func contentChunk(content string) *oai.ChatCompletionChunk {
	return &oai.ChatCompletionChunk{
		Choices: []oai.ChatCompletionChunkChoice{{
			Delta: oai.ChatMessageDelta{Content: content},
		}},
	}
}

// finishChunk builds a chunk carrying only a finish signal.
func finishChunk() *oai.ChatCompletionChunk {
	stop := "stop"
	return &oai.ChatCompletionChunk{
		Choices: []oai.ChatCompletionChunkChoice{{FinishReason: &stop}},
	}
}

// scriptedStream returns a streamFn that replays the given events and then
// closes the channel.
func scriptedStream(events ...oai.StreamEvent) func(context.Context, []oai.ChatMessage, oai.GenerationParams) (<-chan oai.StreamEvent, error) {
	return func(ctx context.Context, _ []oai.ChatMessage, _ oai.GenerationParams) (<-chan oai.StreamEvent, error) {
		ch := make(chan oai.StreamEvent)
		go func() {
			defer close(ch)
			for _, ev := range events {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}
}

// drain collects all events from a relay stream.
func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining relay events")
		}
	}
}

func contentOf(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(ev.Content)
	}
	return b.String()
}

func TestProcessMessageRoundTrip(t *testing.T) {
	store := NewSessionStore()
	client := &fakeClient{
		streamFn: scriptedStream(
			oai.StreamEvent{Chunk: contentChunk("Hello")},
			oai.StreamEvent{Chunk: contentChunk(", world")},
		),
	}
	r := New(store, client)

	events, sessionID, err := r.ProcessMessage(context.Background(),
		[]oai.ChatMessage{{Role: "user", Content: "hi"}}, "", oai.GenerationParams{})
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if sessionID == "" {
		t.Fatal("ProcessMessage() returned empty session ID")
	}

	all := drain(t, events)
	if got := contentOf(all); got != "Hello, world" {
		t.Errorf("accumulated content = %q, want %q", got, "Hello, world")
	}

	stored := store.Get(sessionID)
	want := []oai.ChatMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "Hello, world"},
	}
	if len(stored) != len(want) {
		t.Fatalf("stored transcript has %d messages, want %d", len(stored), len(want))
	}
	for i := range want {
		if stored[i] != want[i] {
			t.Errorf("stored[%d] = %+v, want %+v", i, stored[i], want[i])
		}
	}
}

func TestProcessMessageContinuity(t *testing.T) {
	store := NewSessionStore()

	var seen []oai.ChatMessage
	client := &fakeClient{}
	client.streamFn = func(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams) (<-chan oai.StreamEvent, error) {
		seen = append([]oai.ChatMessage(nil), messages...)
		return scriptedStream(oai.StreamEvent{Chunk: contentChunk("reply")})(ctx, messages, params)
	}
	r := New(store, client)

	events, sessionID, err := r.ProcessMessage(context.Background(),
		[]oai.ChatMessage{{Role: "user", Content: "first"}}, "", oai.GenerationParams{})
	if err != nil {
		t.Fatalf("first ProcessMessage() error = %v", err)
	}
	drain(t, events)

	events, _, err = r.ProcessMessage(context.Background(),
		[]oai.ChatMessage{{Role: "user", Content: "second"}}, sessionID, oai.GenerationParams{})
	if err != nil {
		t.Fatalf("second ProcessMessage() error = %v", err)
	}
	drain(t, events)

	// The second upstream call must carry the first turn prefixed to its
	// own messages.
	wantRoles := []string{"user", "assistant", "user"}
	if len(seen) != len(wantRoles) {
		t.Fatalf("second upstream call saw %d messages, want %d", len(seen), len(wantRoles))
	}
	if seen[0].Content != "first" || seen[1].Content != "reply" || seen[2].Content != "second" {
		t.Errorf("second upstream call saw unexpected transcript: %+v", seen)
	}
}

func TestProcessMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		message oai.ChatMessage
	}{
		{name: "missing role", message: oai.ChatMessage{Content: "hi"}},
		{name: "missing content", message: oai.ChatMessage{Role: "user"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewSessionStore()
			client := &fakeClient{
				streamFn: func(context.Context, []oai.ChatMessage, oai.GenerationParams) (<-chan oai.StreamEvent, error) {
					t.Fatal("upstream must not be called for an invalid transcript")
					return nil, nil
				},
			}
			r := New(store, client)

			_, _, err := r.ProcessMessage(context.Background(),
				[]oai.ChatMessage{tt.message}, "session-1", oai.GenerationParams{})

			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("ProcessMessage() error = %v, want ValidationError", err)
			}
			if got := store.Get("session-1"); len(got) != 0 {
				t.Errorf("stored transcript mutated on validation failure: %+v", got)
			}
		})
	}
}

func TestProcessMessageSingleTerminalMarker(t *testing.T) {
	// The upstream sends a finish signal and then keeps talking; the relay
	// must stop at the finish signal and emit exactly one terminal marker.
	store := NewSessionStore()
	client := &fakeClient{
		streamFn: scriptedStream(
			oai.StreamEvent{Chunk: contentChunk("partial")},
			oai.StreamEvent{Chunk: finishChunk()},
			oai.StreamEvent{Chunk: contentChunk("ignored")},
		),
	}
	r := New(store, client)

	events, sessionID, err := r.ProcessMessage(context.Background(),
		[]oai.ChatMessage{{Role: "user", Content: "hi"}}, "", oai.GenerationParams{})
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}

	all := drain(t, events)
	doneCount := 0
	for _, ev := range all {
		if ev.Done {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Errorf("stream emitted %d terminal markers, want exactly 1", doneCount)
	}
	if got := contentOf(all); got != "partial" {
		t.Errorf("content after finish signal leaked into stream: %q", got)
	}

	stored := store.Get(sessionID)
	if len(stored) != 2 || stored[1].Content != "partial" {
		t.Errorf("stored transcript = %+v, want user turn plus %q reply", stored, "partial")
	}
}

func TestProcessMessageUpstreamCallFailure(t *testing.T) {
	store := NewSessionStore()
	store.Put("session-1", []oai.ChatMessage{{Role: "user", Content: "old"}})

	wantErr := errors.New("boom")
	client := &fakeClient{
		streamFn: func(context.Context, []oai.ChatMessage, oai.GenerationParams) (<-chan oai.StreamEvent, error) {
			return nil, wantErr
		},
	}
	r := New(store, client)

	_, _, err := r.ProcessMessage(context.Background(),
		[]oai.ChatMessage{{Role: "user", Content: "new"}}, "session-1", oai.GenerationParams{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("ProcessMessage() error = %v, want %v", err, wantErr)
	}

	stored := store.Get("session-1")
	if len(stored) != 1 || stored[0].Content != "old" {
		t.Errorf("stored transcript changed on upstream failure: %+v", stored)
	}
}

func TestProcessMessageMidStreamFailure(t *testing.T) {
	store := NewSessionStore()
	client := &fakeClient{
		streamFn: scriptedStream(
			oai.StreamEvent{Chunk: contentChunk("partial")},
			oai.StreamEvent{Err: errors.New("connection reset")},
		),
	}
	r := New(store, client)

	events, sessionID, err := r.ProcessMessage(context.Background(),
		[]oai.ChatMessage{{Role: "user", Content: "hi"}}, "", oai.GenerationParams{})
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}

	all := drain(t, events)
	last := all[len(all)-1]
	if last.Err == nil {
		t.Fatalf("expected terminal error event, got %+v", last)
	}
	for _, ev := range all {
		if ev.Done {
			t.Error("stream emitted Done after a mid-stream failure")
		}
	}
	if got := store.Get(sessionID); len(got) != 0 {
		t.Errorf("partial reply persisted on mid-stream failure: %+v", got)
	}
}

func TestProcessMessageCancellation(t *testing.T) {
	store := NewSessionStore()
	ctx, cancel := context.WithCancel(context.Background())

	client := &fakeClient{
		streamFn: func(ctx context.Context, _ []oai.ChatMessage, _ oai.GenerationParams) (<-chan oai.StreamEvent, error) {
			ch := make(chan oai.StreamEvent)
			go func() {
				defer close(ch)
				for i := 0; ; i++ {
					select {
					case ch <- oai.StreamEvent{Chunk: contentChunk("x")}:
					case <-ctx.Done():
						return
					}
				}
			}()
			return ch, nil
		},
	}
	r := New(store, client)

	events, sessionID, err := r.ProcessMessage(ctx,
		[]oai.ChatMessage{{Role: "user", Content: "hi"}}, "", oai.GenerationParams{})
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}

	// Consume one delta, then walk away.
	<-events
	cancel()
	drain(t, events)

	// The lock is released once the relay goroutine finishes; acquiring it
	// proves the request fully tore down.
	store.Lock(sessionID)
	store.Unlock(sessionID)

	if got := store.Get(sessionID); len(got) != 0 {
		t.Errorf("partial transcript persisted after caller disconnect: %+v", got)
	}
}

func TestProcessMessageSessionIsolation(t *testing.T) {
	store := NewSessionStore()
	client := &fakeClient{
		streamFn: scriptedStream(oai.StreamEvent{Chunk: contentChunk("reply")}),
	}
	r := New(store, client)

	for _, id := range []string{"session-a", "session-b"} {
		events, _, err := r.ProcessMessage(context.Background(),
			[]oai.ChatMessage{{Role: "user", Content: "for " + id}}, id, oai.GenerationParams{})
		if err != nil {
			t.Fatalf("ProcessMessage(%s) error = %v", id, err)
		}
		drain(t, events)
	}

	a := store.Get("session-a")
	b := store.Get("session-b")
	if a[0].Content != "for session-a" || b[0].Content != "for session-b" {
		t.Errorf("sessions observed each other's messages: a=%+v b=%+v", a, b)
	}
}

func TestProcessMessageConcurrentSameSession(t *testing.T) {
	store := NewSessionStore()
	client := &fakeClient{
		streamFn: func(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams) (<-chan oai.StreamEvent, error) {
			// Echo the last user message so each exchange is identifiable.
			last := messages[len(messages)-1].Content
			return scriptedStream(oai.StreamEvent{Chunk: contentChunk("re: " + last)})(ctx, messages, params)
		},
	}
	r := New(store, client)

	var wg sync.WaitGroup
	for _, msg := range []string{"one", "two"} {
		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			events, _, err := r.ProcessMessage(context.Background(),
				[]oai.ChatMessage{{Role: "user", Content: msg}}, "shared", oai.GenerationParams{})
			if err != nil {
				t.Errorf("ProcessMessage(%s) error = %v", msg, err)
				return
			}
			drain(t, events)
		}(msg)
	}
	wg.Wait()

	stored := store.Get("shared")
	if len(stored) != 4 {
		t.Fatalf("stored transcript has %d messages, want 4 (both exchanges): %+v", len(stored), stored)
	}
	var contents []string
	for _, m := range stored {
		contents = append(contents, m.Content)
	}
	joined := strings.Join(contents, "|")
	for _, want := range []string{"one", "two", "re: one", "re: two"} {
		if !strings.Contains(joined, want) {
			t.Errorf("final transcript lost %q: %v", want, contents)
		}
	}
}

func TestCompleteNonStreaming(t *testing.T) {
	store := NewSessionStore()
	client := &fakeClient{
		completeFn: func(_ context.Context, messages []oai.ChatMessage, _ oai.GenerationParams) (string, error) {
			return "full reply", nil
		},
	}
	r := New(store, client)

	content, sessionID, err := r.Complete(context.Background(),
		[]oai.ChatMessage{{Role: "user", Content: "hi"}}, "", oai.GenerationParams{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if content != "full reply" {
		t.Errorf("Complete() content = %q, want %q", content, "full reply")
	}

	stored := store.Get(sessionID)
	if len(stored) != 2 || stored[1].Role != "assistant" || stored[1].Content != "full reply" {
		t.Errorf("stored transcript = %+v", stored)
	}
}

func TestCompleteFailureLeavesStoreUntouched(t *testing.T) {
	store := NewSessionStore()
	client := &fakeClient{
		completeFn: func(context.Context, []oai.ChatMessage, oai.GenerationParams) (string, error) {
			return "", errors.New("upstream down")
		},
	}
	r := New(store, client)

	_, _, err := r.Complete(context.Background(),
		[]oai.ChatMessage{{Role: "user", Content: "hi"}}, "session-1", oai.GenerationParams{})
	if err == nil {
		t.Fatal("Complete() error = nil, want failure")
	}
	if got := store.Get("session-1"); len(got) != 0 {
		t.Errorf("stored transcript mutated on failure: %+v", got)
	}
}
