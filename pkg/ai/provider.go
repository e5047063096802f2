package ai

import (
	"context"
	"time"
)

// Provider is the upstream LLM API surface the executor drives. Implementations return
// errors that expose StatusCode() / ErrorCode() where the provider supplies them.
type Provider interface {
	ChatCompletion(ctx context.Context, params ChatCompletionParams) (*ChatCompletion, error)
	CreateVectorStore(ctx context.Context, params VectorStoreParams) (*VectorStore, error)
	CreateFileBatch(ctx context.Context, vectorStoreID string, params FileBatchParams) (*FileBatch, error)
	DeleteVectorStore(ctx context.Context, vectorStoreID string) (*Deletion, error)
	CreateFile(ctx context.Context, params FileParams) (*File, error)
	RetrieveVectorStore(ctx context.Context, vectorStoreID string) (*VectorStore, error)
}

// ProviderFactory builds the provider once at startup.
type ProviderFactory func(apiKey string, timeout time.Duration) (Provider, error)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Tool struct {
	Type string `json:"type"`
}

type FileSearchResources struct {
	VectorStoreIDs []string `json:"vector_store_ids"`
}

type ToolResources struct {
	FileSearch *FileSearchResources `json:"file_search,omitempty"`
}

type JSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

// ResponseFormat selects "json_object" or "json_schema" output.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type ChatCompletionParams struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Tools          []Tool          `json:"tools,omitempty"`
	ToolResources  *ToolResources  `json:"tool_resources,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Content returns the first choice's message text, or "".
func (c *ChatCompletion) Content() string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

// TotalTokens returns usage.total_tokens, or 0 when usage was not reported.
func (c *ChatCompletion) TotalTokens() int {
	if c == nil || c.Usage == nil {
		return 0
	}
	return c.Usage.TotalTokens
}

type ExpiresAfter struct {
	Anchor string `json:"anchor"`
	Days   int    `json:"days"`
}

type VectorStoreParams struct {
	Name         string            `json:"name,omitempty"`
	FileIDs      []string          `json:"file_ids,omitempty"`
	ExpiresAfter *ExpiresAfter     `json:"expires_after,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type FileCounts struct {
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

type VectorStore struct {
	ID         string     `json:"id"`
	Object     string     `json:"object"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	CreatedAt  int64      `json:"created_at"`
	UsageBytes int64      `json:"usage_bytes"`
	FileCounts FileCounts `json:"file_counts"`
	ExpiresAt  *int64     `json:"expires_at,omitempty"`
}

type FileBatchParams struct {
	FileIDs []string `json:"file_ids"`
}

type FileBatch struct {
	ID            string     `json:"id"`
	Object        string     `json:"object"`
	VectorStoreID string     `json:"vector_store_id"`
	Status        string     `json:"status"`
	CreatedAt     int64      `json:"created_at"`
	FileCounts    FileCounts `json:"file_counts"`
}

type Deletion struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// FileParams carries the whole upload in memory so a retried attempt resends the same bytes.
type FileParams struct {
	Filename    string `json:"filename"`
	Purpose     string `json:"purpose"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

type File struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
	Status    string `json:"status,omitempty"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
}
