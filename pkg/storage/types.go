package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a row or log entry does not exist.
var ErrNotFound = errors.New("not found")

// Request log outcomes.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusRateLimited = "rate_limited"
)

// RequestLogEntry is the single audit row written for one executor call.
// Intermediate attempts are folded into RetryCount and the final Status.
type RequestLogEntry struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Operation    string    `json:"operation" gorm:"index;size:64"`
	PromptHash   string    `json:"prompt_hash" gorm:"index;size:16"`
	FileIDs      []string  `json:"file_ids" gorm:"serializer:json"`
	TokenCount   int       `json:"token_count"`
	DurationMs   int64     `json:"duration_ms"`
	Status       string    `json:"status" gorm:"index;size:16"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RetryCount   int       `json:"retry_count"`
	UserID       string    `json:"user_id,omitempty" gorm:"index;size:64"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (RequestLogEntry) TableName() string {
	return "api_request_logs"
}

// Document visibility levels.
const (
	VisibilityPrivate      = "private"
	VisibilityOrganization = "organization"
	VisibilityPublic       = "public"
)

// Document lifecycle states.
const (
	DocumentDraft    = "draft"
	DocumentReview   = "review"
	DocumentFinal    = "final"
	DocumentArchived = "archived"
)

// Document is a generated business document.
type Document struct {
	ID            string         `json:"id" gorm:"primaryKey;size:36"`
	OwnerID       string         `json:"owner_id" gorm:"index;size:64"`
	Title         string         `json:"title"`
	DocumentType  string         `json:"document_type" gorm:"index;size:32"`
	Status        string         `json:"status" gorm:"index;size:16"`
	Visibility    string         `json:"visibility" gorm:"index;size:16"`
	Content       map[string]any `json:"content" gorm:"serializer:json"`
	Requirements  string         `json:"requirements,omitempty"`
	FileIDs       []string       `json:"file_ids" gorm:"serializer:json"`
	// VectorStoreID is set only when the generation store could not be deleted.
	VectorStoreID string         `json:"vector_store_id,omitempty" gorm:"size:64"`
	WordCount     int            `json:"word_count"`
	QAScore       *int           `json:"qa_score,omitempty"`
	TokensIn      int            `json:"tokens_in"`
	TokensOut     int            `json:"tokens_out"`
	DurationMs    int64          `json:"duration_ms"`
	CostUSD       float64        `json:"cost_usd"`
	CreatedAt     time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Types lists every model migrated by the SQL store.
var Types = []any{
	&RequestLogEntry{},
	&Document{},
}
