package relay

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"azure-openai-relay/internal/azure"
	"azure-openai-relay/pkg/oai"
)

// ServerState exposes the relay over HTTP.
type ServerState struct {
	Relay        *Relay
	DefaultModel string
}

// NewServerState creates the HTTP-facing state for a relay.
func NewServerState(r *Relay, defaultModel string) *ServerState {
	return &ServerState{Relay: r, DefaultModel: defaultModel}
}

// RegisterRoutes mounts the relay endpoints on a router.
func (s *ServerState) RegisterRoutes(router chi.Router) {
	router.Post("/v1/chat/completions", s.HandleChatCompletions)
}

// errorBody is the OpenAI-style error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Message: message, Type: errType}})
}

// writeRelayError maps a core-operation failure onto the wire: validation
// failures are the caller's fault, credential failures mean the upstream is
// unavailable, and provider failures keep the provider's own status.
func writeRelayError(w http.ResponseWriter, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	var authErr *azure.AuthError
	if errors.As(err, &authErr) {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}

	var upstreamErr *azure.UpstreamError
	if errors.As(err, &upstreamErr) {
		status := upstreamErr.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		writeError(w, status, "upstream_error", err.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

// HandleChatCompletions serves POST /v1/chat/completions. The request body
// follows OpenAI's schema plus an optional session_id; the stored session
// transcript is prefixed to the request's messages before the upstream call.
// The response carries the session identifier in the X-Session-Id header so
// callers can continue the conversation.
func (s *ServerState) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req oai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "'messages' is required and must not be empty")
		return
	}
	if req.Model == "" {
		req.Model = s.DefaultModel
	}

	if req.Stream {
		s.streamCompletion(w, r, req)
		return
	}
	s.completeOnce(w, r, req)
}

func (s *ServerState) completeOnce(w http.ResponseWriter, r *http.Request, req oai.ChatCompletionRequest) {
	content, sessionID, err := s.Relay.Complete(r.Context(), req.Messages, req.SessionID, req.Params())
	if err != nil {
		writeRelayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Session-Id", sessionID)
	json.NewEncoder(w).Encode(NewChatCompletion(req.Model, content))
}

func (s *ServerState) streamCompletion(w http.ResponseWriter, r *http.Request, req oai.ChatCompletionRequest) {
	events, sessionID, err := s.Relay.ProcessMessage(r.Context(), req.Messages, req.SessionID, req.Params())
	if err != nil {
		writeRelayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for ev := range events {
		switch {
		case ev.Err != nil:
			// Headers are gone; the best we can do is surface the failure
			// in-band and end the stream without a [DONE] marker.
			log.Printf("relay: stream for session %s failed: %v", sessionID, ev.Err)
			frame, _ := json.Marshal(map[string]string{"error": ev.Err.Error()})
			w.Write([]byte("data: " + string(frame) + "\n\n"))
		case ev.Done:
			w.Write([]byte("data: [DONE]\n\n"))
		default:
			chunk := oai.ChatCompletionChunk{
				Choices: []oai.ChatCompletionChunkChoice{{
					Delta: oai.ChatMessageDelta{Content: ev.Content},
				}},
			}
			frame, err := json.Marshal(chunk)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(frame) + "\n\n")); err != nil {
				// Client disconnected; ctx cancellation tears down the rest.
				return
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
