/*
Package relay implements the session-scoped chat-completion relay.

# Architecture Overview

The package follows a layered structure:

1. HTTP Handlers (handlers.go)
  - Serve the OpenAI-compatible /v1/chat/completions endpoint
  - Decode requests, choose the streaming or plain path, and map core
    failures onto protocol-appropriate error responses
  - Re-encode normalized relay events as text/event-stream frames

2. Conversation Relay (relay.go)
  - The sole mutator of conversation state and the sole consumer of the
    upstream completion client
  - Merges stored history with new messages, validates the transcript,
    forwards it upstream, re-frames deltas, and commits the updated
    transcript exactly once per request

3. Session Store (store.go)
  - In-memory transcript map keyed by session identifier
  - One mutex per session, held across the full read-merge-call-commit
    cycle so concurrent requests on one session serialize

4. Response Framer (framer.go)
  - Wraps an accumulated reply into the chat.completion envelope for
    non-streaming callers

# Request Flow

1. POST /v1/chat/completions arrives with messages and an optional session_id
2. The relay resolves or generates the session identifier and takes its lock
3. Stored history is prefixed to the request's messages and validated
4. The merged transcript goes to the upstream client (internal/azure)
5. Deltas stream back to the caller one at a time while the full reply
   accumulates; the finished transcript is committed and the stream ends
   with a single [DONE] frame

A failure at any point before commit leaves the session's stored transcript
exactly as it was before the request.
*/
package relay
