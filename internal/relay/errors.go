package relay

import (
	"fmt"

	"azure-openai-relay/pkg/oai"
)

// ValidationError reports a malformed message in the merged transcript. It
// is raised before any upstream call, so no session state has been touched
// when a caller sees one.
type ValidationError struct {
	Index int
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("message %d is missing %q; each message must include 'role' and 'content'", e.Index, e.Field)
}

// validateTranscript checks that every message carries both a role and
// non-empty content. An empty field is treated the same as a missing one.
func validateTranscript(messages []oai.ChatMessage) error {
	for i, m := range messages {
		if m.Role == "" {
			return &ValidationError{Index: i, Field: "role"}
		}
		if m.Content == "" {
			return &ValidationError{Index: i, Field: "content"}
		}
	}
	return nil
}
