package storage

import (
	"context"
	"time"
)

// Store is the append-only sink for request logs.
// Entries are never updated or deleted; retention is handled by the backend.
type Store interface {
	// Request Logs
	SaveRequestLog(ctx context.Context, entry *RequestLogEntry) error
	GetRequestLog(ctx context.Context, id string) (*RequestLogEntry, error)
	ListRequestLogs(ctx context.Context, filters LogFilters) ([]*RequestLogEntry, error)

	// Analytics
	GetUsageStats(ctx context.Context, userID string, from, to time.Time) (*UsageStats, error)

	// Health check
	Ping(ctx context.Context) error
}

// DocumentStore persists generated documents.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	UpdateDocument(ctx context.Context, doc *Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, filters DocumentFilters) ([]*Document, error)
	CountDocuments(ctx context.Context, ownerID string, since time.Time) (int64, error)
	AverageDuration(ctx context.Context, ownerID string) (float64, error)
}

// LogFilters for querying request logs
type LogFilters struct {
	UserID    string
	Operation string
	Status    string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// DocumentFilters for listing documents. With IncludeShared the owner's documents are
// returned together with every non-private document.
type DocumentFilters struct {
	OwnerID       string
	IncludeShared bool
	DocumentType  string
	Status        string
	Limit         int
	Offset        int
}

// UsageStats aggregated usage statistics
type UsageStats struct {
	TotalRequests int64            `json:"total_requests"`
	TotalTokens   int64            `json:"total_tokens"`
	TotalRetries  int64            `json:"total_retries"`
	ByStatus      map[string]int64 `json:"by_status"`
	ByOperation   map[string]int64 `json:"by_operation"`
	AvgDurationMs float64          `json:"avg_duration_ms"`
}

const defaultLimit = 100

func newUsageStats() *UsageStats {
	return &UsageStats{
		ByStatus:    make(map[string]int64),
		ByOperation: make(map[string]int64),
	}
}

func (s *UsageStats) add(entry *RequestLogEntry) {
	s.TotalRequests++
	s.TotalTokens += int64(entry.TokenCount)
	s.TotalRetries += int64(entry.RetryCount)
	s.ByStatus[entry.Status]++
	if entry.Operation != "" {
		s.ByOperation[entry.Operation]++
	}
}

func (s *UsageStats) finish(totalDurationMs int64) {
	if s.TotalRequests > 0 {
		s.AvgDurationMs = float64(totalDurationMs) / float64(s.TotalRequests)
	}
}
