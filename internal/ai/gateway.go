// Package ai provides a provider-agnostic completion gateway used by the
// curriculum generator. Providers speak to hosted language models; the Router
// tries them in registration order.
package ai

import "context"

// TaskType defines the kind of AI task, used for logging and routing.
type TaskType int

const (
	TaskCurriculum TaskType = iota
	TaskSubtopics
)

func (t TaskType) String() string {
	switch t {
	case TaskCurriculum:
		return "curriculum"
	case TaskSubtopics:
		return "subtopics"
	default:
		return "unknown"
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Task        TaskType  `json:"task,omitempty"`
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool `json:"json_mode,omitempty"`
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Completer is the narrow interface consumers depend on.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Provider is the interface all AI providers must implement.
type Provider interface {
	Completer
	HealthCheck(ctx context.Context) error
}
