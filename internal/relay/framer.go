package relay

import (
	"time"

	"github.com/google/uuid"

	"azure-openai-relay/pkg/oai"
)

// NewChatCompletion wraps an accumulated assistant reply into the OpenAI
// completion envelope for non-streaming callers. Token usage is reported as
// zero because the relay does not track token consumption.
func NewChatCompletion(model, content string) oai.ChatCompletionResponse {
	return oai.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []oai.ChatCompletionChoice{{
			Index:        0,
			Message:      oai.ChatMessage{Role: oai.RoleAssistant, Content: content},
			FinishReason: "stop",
		}},
		Usage: oai.UsageBreakdown{},
	}
}
