package relay

import (
	"sync"

	"azure-openai-relay/pkg/oai"
)

// SessionStore is the in-memory mapping from session identifier to
// conversation transcript. Transcripts live for the process lifetime; there
// is no eviction or persistence.
//
// Get and Put copy the transcript so a stored transcript is never mutated
// in place. Lock and Unlock expose one mutex per session identifier; the
// relay holds it across its full read-merge-call-commit cycle so two
// concurrent requests on the same session cannot lose each other's exchange.
type SessionStore struct {
	mu          sync.Mutex
	transcripts map[string][]oai.ChatMessage
	locks       map[string]*sync.Mutex
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		transcripts: make(map[string][]oai.ChatMessage),
		locks:       make(map[string]*sync.Mutex),
	}
}

// Get returns a copy of the transcript for sessionID, or an empty transcript
// if the session is unknown.
func (s *SessionStore) Get(sessionID string) []oai.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.transcripts[sessionID]
	transcript := make([]oai.ChatMessage, len(stored))
	copy(transcript, stored)
	return transcript
}

// Put atomically replaces the transcript stored for sessionID.
func (s *SessionStore) Put(sessionID string, transcript []oai.ChatMessage) {
	stored := make([]oai.ChatMessage, len(transcript))
	copy(stored, transcript)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[sessionID] = stored
}

// Lock acquires the per-session mutex for sessionID, creating it on first
// use. Distinct sessions never contend with each other.
func (s *SessionStore) Lock(sessionID string) {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	s.mu.Unlock()

	l.Lock()
}

// Unlock releases the per-session mutex for sessionID.
func (s *SessionStore) Unlock(sessionID string) {
	s.mu.Lock()
	l := s.locks[sessionID]
	s.mu.Unlock()

	if l != nil {
		l.Unlock()
	}
}

// Len reports the number of sessions currently held. Used by /status.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcripts)
}
