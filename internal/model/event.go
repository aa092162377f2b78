package model

// ChatMessage is one entry of the history sent to the chat endpoint.
type ChatMessage struct {
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	UserID   string        `json:"userId,omitempty"`
	Model    string        `json:"model,omitempty"`
}

// ChunkDelta carries the incremental text of a streamed frame.
type ChunkDelta struct {
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one choice of a streamed frame.
type ChunkChoice struct {
	Index int        `json:"index"`
	Delta ChunkDelta `json:"delta"`
}

// StreamChunk is the JSON payload of a `data:` frame.
type StreamChunk struct {
	Choices []ChunkChoice `json:"choices"`
}

// StreamError is the JSON payload of a `data:` frame reporting a mid-stream failure.
type StreamError struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorResponse is the JSON body returned with a non-2xx status.
type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// NewStreamChunk builds a single-choice frame payload.
func NewStreamChunk(content string) StreamChunk {
	return StreamChunk{Choices: []ChunkChoice{{Delta: ChunkDelta{Content: content}}}}
}
