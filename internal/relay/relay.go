package relay

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"azure-openai-relay/pkg/oai"
)

// UpstreamClient is the relay's view of the completion provider. The azure
// package supplies the production implementation; tests supply fakes.
type UpstreamClient interface {
	// Complete returns the assistant's full reply for the transcript.
	Complete(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams) (string, error)
	// CompleteStream returns a channel of incremental delta chunks. The
	// channel is closed when the upstream stream ends; a mid-stream failure
	// arrives as a final event carrying Err.
	CompleteStream(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams) (<-chan oai.StreamEvent, error)
}

// Event is one item of the relay's normalized output stream: a content
// fragment, the single terminal marker, or a failure that ended the stream.
type Event struct {
	Content string
	Done    bool
	Err     error
}

// Relay owns conversation state. It is the sole mutator of the session
// store and the sole consumer of the upstream client.
type Relay struct {
	store  *SessionStore
	client UpstreamClient
}

// New creates a relay over the given store and upstream client.
func New(store *SessionStore, client UpstreamClient) *Relay {
	return &Relay{store: store, client: client}
}

// Store exposes the session store for status reporting.
func (r *Relay) Store() *SessionStore {
	return r.store
}

// prepare runs the shared front half of both code paths: resolve the session
// identifier, acquire its lock, merge stored history with the new messages,
// and validate the merged transcript. On success the session lock is held
// and the caller must release it; on failure the lock has already been
// released and no state was touched.
func (r *Relay) prepare(newMessages []oai.ChatMessage, sessionID string) (string, []oai.ChatMessage, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	r.store.Lock(sessionID)

	working := append(r.store.Get(sessionID), newMessages...)
	if err := validateTranscript(working); err != nil {
		r.store.Unlock(sessionID)
		return "", nil, err
	}
	return sessionID, working, nil
}

// ProcessMessage merges newMessages into the session's stored transcript,
// forwards the merged transcript upstream in streaming mode, and returns a
// channel of normalized events plus the session identifier (freshly
// generated when sessionID is empty).
//
// Content events are delivered one at a time on an unbuffered channel, so a
// slow consumer applies backpressure all the way to the upstream read loop.
// The stream ends with exactly one terminal event (Done or Err) and the
// channel is then closed.
//
// The updated transcript, including the accumulated assistant reply, is
// committed to the store exactly once, immediately before the terminal
// marker is delivered. Any failure before that point, including ctx
// cancellation when the caller disconnects, leaves the stored transcript
// untouched.
func (r *Relay) ProcessMessage(ctx context.Context, newMessages []oai.ChatMessage, sessionID string, params oai.GenerationParams) (<-chan Event, string, error) {
	sessionID, working, err := r.prepare(newMessages, sessionID)
	if err != nil {
		return nil, "", err
	}

	// A dedicated cancel lets the forwarding loop tear down the upstream
	// read when it stops early on a finish signal.
	upstreamCtx, cancel := context.WithCancel(ctx)

	stream, err := r.client.CompleteStream(upstreamCtx, working, params)
	if err != nil {
		cancel()
		r.store.Unlock(sessionID)
		return nil, "", err
	}

	events := make(chan Event)
	go func() {
		defer r.store.Unlock(sessionID)
		defer close(events)
		defer cancel()

		var reply strings.Builder
	forward:
		for ev := range stream {
			if ev.Err != nil {
				// Upstream died mid-stream: report it and leave the
				// stored transcript as it was.
				select {
				case events <- Event{Err: ev.Err}:
				case <-ctx.Done():
				}
				return
			}
			chunk := ev.Chunk
			if chunk == nil || len(chunk.Choices) == 0 {
				continue
			}
			if chunk.FinishReason() != "" {
				break forward
			}
			content := chunk.Delta().Content
			if content == "" {
				continue
			}
			select {
			case events <- Event{Content: content}:
				reply.WriteString(content)
			case <-ctx.Done():
				return
			}
		}

		if ctx.Err() != nil {
			// Caller went away; a partial reply must not be persisted.
			return
		}

		final := append(working, oai.ChatMessage{Role: oai.RoleAssistant, Content: reply.String()})
		r.store.Put(sessionID, final)

		select {
		case events <- Event{Done: true}:
		case <-ctx.Done():
		}
	}()

	return events, sessionID, nil
}

// Complete is the non-streaming path: one upstream round trip, the reply
// used directly as the assistant message. Commit semantics match
// ProcessMessage: the store is updated only after the upstream call
// succeeded in full.
func (r *Relay) Complete(ctx context.Context, newMessages []oai.ChatMessage, sessionID string, params oai.GenerationParams) (string, string, error) {
	sessionID, working, err := r.prepare(newMessages, sessionID)
	if err != nil {
		return "", "", err
	}
	defer r.store.Unlock(sessionID)

	content, err := r.client.Complete(ctx, working, params)
	if err != nil {
		return "", "", err
	}

	final := append(working, oai.ChatMessage{Role: oai.RoleAssistant, Content: content})
	r.store.Put(sessionID, final)

	return content, sessionID, nil
}
