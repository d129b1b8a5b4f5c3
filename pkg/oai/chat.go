// Package oai contains the OpenAI-compatible wire types the relay speaks on
// both sides: inbound requests from clients and outbound payloads to the
// Azure OpenAI chat-completions endpoint.
package oai

// ChatMessage follows OpenAI's role/content schema.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles accepted in a transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatCompletionRequest captures the subset of OpenAI's request the relay
// supports, plus the relay's own session_id extension for conversation
// continuity. The wire-level stream default is false; callers must opt in.
type ChatCompletionRequest struct {
	Model            string        `json:"model,omitempty"`
	Messages         []ChatMessage `json:"messages"`
	SessionID        string        `json:"session_id,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
}

// GenerationParams are the tuning knobs forwarded to the upstream provider.
// Nil fields mean "not set by the caller"; the upstream client fills in the
// documented defaults before the request leaves the process.
type GenerationParams struct {
	Model            string
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Stop             []string
}

// Default generation parameters, applied when the caller leaves a field unset.
const (
	DefaultModel            = "gpt-4o"
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 4000
	DefaultTopP             = 0.95
	DefaultFrequencyPenalty = 0.0
	DefaultPresencePenalty  = 0.0
)

// Params extracts the generation parameters from an inbound request.
func (r ChatCompletionRequest) Params() GenerationParams {
	return GenerationParams{
		Model:            r.Model,
		Temperature:      r.Temperature,
		MaxTokens:        r.MaxTokens,
		TopP:             r.TopP,
		FrequencyPenalty: r.FrequencyPenalty,
		PresencePenalty:  r.PresencePenalty,
		Stop:             r.Stop,
	}
}

// WithDefaults returns a copy of p with every unset field replaced by its
// documented default.
func (p GenerationParams) WithDefaults() GenerationParams {
	out := p
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.Temperature == nil {
		out.Temperature = ptr(DefaultTemperature)
	}
	if out.MaxTokens == nil {
		n := DefaultMaxTokens
		out.MaxTokens = &n
	}
	if out.TopP == nil {
		out.TopP = ptr(DefaultTopP)
	}
	if out.FrequencyPenalty == nil {
		out.FrequencyPenalty = ptr(DefaultFrequencyPenalty)
	}
	if out.PresencePenalty == nil {
		out.PresencePenalty = ptr(DefaultPresencePenalty)
	}
	return out
}

func ptr(f float64) *float64 { return &f }

// ChatCompletionResponse mirrors the OpenAI schema with a single choice.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   UsageBreakdown         `json:"usage"`
}

// ChatCompletionChoice contains the generated message.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	Logprobs     interface{} `json:"logprobs"`
	FinishReason string      `json:"finish_reason"`
}

// UsageBreakdown provides token accounting placeholders. The relay does not
// count tokens, so every field is reported as zero.
type UsageBreakdown struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
