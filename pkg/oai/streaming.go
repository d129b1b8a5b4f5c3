package oai

// ChatCompletionChunk is one incremental frame of a streaming completion.
// Every field carries omitempty so a chunk holding nothing but a content
// delta serializes to {"choices":[{"delta":{"content":"..."}}]}, the exact
// frame shape the relay emits to its own callers.
type ChatCompletionChunk struct {
	ID      string                      `json:"id,omitempty"`
	Object  string                      `json:"object,omitempty"`
	Created int64                       `json:"created,omitempty"`
	Model   string                      `json:"model,omitempty"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// ChatCompletionChunkChoice is a single choice inside a streaming chunk.
type ChatCompletionChunkChoice struct {
	Index        int              `json:"index,omitempty"`
	Delta        ChatMessageDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason,omitempty"`
}

// ChatMessageDelta is the incremental content carried by a stream chunk.
type ChatMessageDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Delta returns the first choice's delta, or a zero delta when the chunk
// carries no choices (protocol noise some providers emit).
func (c *ChatCompletionChunk) Delta() ChatMessageDelta {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta
	}
	return ChatMessageDelta{}
}

// FinishReason returns the first choice's finish reason, empty if absent.
func (c *ChatCompletionChunk) FinishReason() string {
	if len(c.Choices) > 0 && c.Choices[0].FinishReason != nil {
		return *c.Choices[0].FinishReason
	}
	return ""
}

// StreamEvent is one item on an upstream delta channel: either a decoded
// chunk or a terminal read error. The producing goroutine closes the channel
// when the upstream stream ends.
type StreamEvent struct {
	Chunk *ChatCompletionChunk
	Err   error
}
