package adapter

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage for a single generation call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ScriptModel is the port for the generative text model that writes dialogue scripts.
type ScriptModel interface {
	// Provider names the backend for logs and metrics ("gemini", "openai").
	Provider() string
	Model() string
	// Generate returns the raw completion for the given messages.
	Generate(ctx context.Context, messages []Message) (string, Usage, error)
}
