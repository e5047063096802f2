// Package documents orchestrates document generation, QA review and the
// document library on top of the AI executor.
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoyal88/docgen/pkg/ai"
	"github.com/ngoyal88/docgen/pkg/storage"
	"github.com/ngoyal88/docgen/pkg/users"
)

// Executor is the subset of *ai.Executor the service drives.
type Executor interface {
	ChatCompletion(ctx context.Context, params ai.ChatCompletionParams, fileIDs []string, userID string) (*ai.ChatCompletion, error)
	CreateVectorStore(ctx context.Context, params ai.VectorStoreParams, userID string) (*ai.VectorStore, error)
	CreateFileBatch(ctx context.Context, vectorStoreID string, params ai.FileBatchParams, userID string) (*ai.FileBatch, error)
	DeleteVectorStore(ctx context.Context, vectorStoreID string, userID string) (*ai.Deletion, error)
	CreateFile(ctx context.Context, params ai.FileParams, userID string) (*ai.File, error)
	RetrieveVectorStore(ctx context.Context, vectorStoreID string, userID string) (*ai.VectorStore, error)
}

var _ Executor = (*ai.Executor)(nil)

const (
	DefaultModel           = "gpt-4o-2024-08-06"
	DefaultQAModel         = "gpt-4o"
	DefaultMaxTokens       = 4000
	DefaultMaxPromptTokens = 100000
	DefaultVectorStoreDays = 1

	qaTemperature = 0.3
	recentLimit   = 5
)

type Config struct {
	Model           string
	QAModel         string
	MaxTokens       int
	MaxPromptTokens int
	VectorStoreDays int
	// Pricing is USD per 1k tokens keyed by model.
	Pricing map[string]float64
	// TokenCounter overrides the tiktoken prompt counter.
	TokenCounter func(model string, msgs []ai.Message) int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.QAModel == "" {
		c.QAModel = DefaultQAModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxPromptTokens <= 0 {
		c.MaxPromptTokens = DefaultMaxPromptTokens
	}
	if c.VectorStoreDays <= 0 {
		c.VectorStoreDays = DefaultVectorStoreDays
	}
	if c.TokenCounter == nil {
		c.TokenCounter = ai.CountMessageTokens
	}
	return c
}

type Service struct {
	exec   Executor
	store  storage.DocumentStore
	cfg    Config
	logger *zap.Logger

	now         func() time.Time
	countTokens func(model string, msgs []ai.Message) int
}

func NewService(exec Executor, store storage.DocumentStore, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		exec:        exec,
		store:       store,
		cfg:         cfg,
		logger:      logger.Named("documents"),
		now:         time.Now,
		countTokens: cfg.TokenCounter,
	}
}

type GenerateRequest struct {
	DocumentType string   `json:"documentType"`
	Title        string   `json:"title"`
	Requirements string   `json:"requirements"`
	FileIDs      []string `json:"fileIds"`
	Visibility   string   `json:"visibility"`
}

type GenerateResult struct {
	Document      *storage.Document `json:"document"`
	Schema        map[string]any    `json:"schema"`
	HasReferences bool              `json:"hasReferences"`
	Missing       []string          `json:"missingSections,omitempty"`
	Persisted     bool              `json:"persisted"`
}

func validVisibility(v string) bool {
	switch v {
	case storage.VisibilityPrivate, storage.VisibilityOrganization, storage.VisibilityPublic:
		return true
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case storage.DocumentDraft, storage.DocumentReview, storage.DocumentFinal, storage.DocumentArchived:
		return true
	}
	return false
}

func generationPrompt(req GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a professional %s with the following specifications:\n\n", req.DocumentType)
	fmt.Fprintf(&b, "**Title:** %s\n\n", req.Title)
	fmt.Fprintf(&b, "**Requirements & Context:**\n%s\n\n", req.Requirements)
	if len(req.FileIDs) > 0 {
		fmt.Fprintf(&b, "**Reference Files:** %d files have been uploaded for context and reference.\n\n", len(req.FileIDs))
	}
	b.WriteString("Please create a comprehensive, well-structured document that follows industry standards and includes all required sections.")
	return b.String()
}

// Generate produces and stores a document. Reference files are attached through a
// short-lived vector store that is removed once generation finishes.
func (s *Service) Generate(ctx context.Context, user *users.User, req GenerateRequest) (*GenerateResult, error) {
	req.DocumentType = strings.TrimSpace(req.DocumentType)
	req.Title = strings.TrimSpace(req.Title)
	if req.DocumentType == "" || req.Title == "" || strings.TrimSpace(req.Requirements) == "" {
		return nil, fmt.Errorf("%w: documentType, title and requirements are required", ErrInvalidInput)
	}
	if req.Visibility == "" {
		req.Visibility = storage.VisibilityPrivate
	}
	if !validVisibility(req.Visibility) {
		return nil, fmt.Errorf("%w: visibility %q", ErrInvalidInput, req.Visibility)
	}

	start := s.now()
	tmpl := TemplateFor(req.DocumentType)
	log := s.logger.With(zap.String("user_id", user.ID), zap.String("document_type", tmpl.Type))

	messages := []ai.Message{
		{Role: "system", Content: tmpl.SystemPrompt()},
		{Role: "user", Content: generationPrompt(req)},
	}
	tokensIn := s.countTokens(s.cfg.Model, messages)
	promptTokens.Observe(float64(tokensIn))
	if tokensIn > s.cfg.MaxPromptTokens {
		generatedTotal.WithLabelValues(tmpl.Type, "rejected").Inc()
		return nil, fmt.Errorf("%w: %d tokens, limit %d", ErrPromptTooLarge, tokensIn, s.cfg.MaxPromptTokens)
	}

	vectorStoreID := s.attachReferences(ctx, log, user.ID, req.FileIDs)

	params := ai.ChatCompletionParams{
		Model:    s.cfg.Model,
		Messages: messages,
		ResponseFormat: &ai.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &ai.JSONSchema{
				Name:   strings.ReplaceAll(tmpl.Type, "-", "_") + "_document",
				Schema: tmpl.Schema(),
				Strict: true,
			},
		},
		MaxTokens: s.cfg.MaxTokens,
	}
	if vectorStoreID != "" {
		params.Tools = []ai.Tool{{Type: "file_search"}}
		params.ToolResources = &ai.ToolResources{
			FileSearch: &ai.FileSearchResources{VectorStoreIDs: []string{vectorStoreID}},
		}
	}

	completion, err := s.exec.ChatCompletion(ctx, params, req.FileIDs, user.ID)
	leftoverStore := s.releaseReferences(ctx, log, user.ID, vectorStoreID)
	if err != nil {
		generatedTotal.WithLabelValues(tmpl.Type, "failed").Inc()
		return nil, fmt.Errorf("generate %s: %w", tmpl.Type, err)
	}

	raw := completion.Content()
	if strings.TrimSpace(raw) == "" {
		generatedTotal.WithLabelValues(tmpl.Type, "failed").Inc()
		return nil, ErrEmptyCompletion
	}
	var content map[string]any
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		generatedTotal.WithLabelValues(tmpl.Type, "failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	tokensOut := 0
	if completion.Usage != nil {
		tokensIn = completion.Usage.PromptTokens
		tokensOut = completion.Usage.CompletionTokens
	} else {
		tokensOut = s.countTokens(s.cfg.Model, []ai.Message{{Role: "assistant", Content: raw}})
	}
	cost := ai.EstimateCost(tokensIn+tokensOut, s.cfg.Model, s.cfg.Pricing)
	costUSDTotal.WithLabelValues(tmpl.Type).Add(cost)

	now := s.now().UTC()
	fileIDs := req.FileIDs
	if fileIDs == nil {
		fileIDs = []string{}
	}
	doc := &storage.Document{
		ID:            uuid.NewString(),
		OwnerID:       user.ID,
		Title:         req.Title,
		DocumentType:  tmpl.Type,
		Status:        storage.DocumentDraft,
		Visibility:    req.Visibility,
		Content:       content,
		Requirements:  req.Requirements,
		FileIDs:       fileIDs,
		VectorStoreID: leftoverStore,
		WordCount:     WordCount(content),
		TokensIn:      tokensIn,
		TokensOut:     tokensOut,
		DurationMs:    now.Sub(start).Milliseconds(),
		CostUSD:       cost,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	res := &GenerateResult{
		Document:      doc,
		Schema:        tmpl.Schema(),
		HasReferences: len(req.FileIDs) > 0,
		Missing:       tmpl.Missing(content),
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		// the caller already paid for the completion; hand it back unsaved
		log.Error("failed to persist generated document", zap.String("document_id", doc.ID), zap.Error(err))
	} else {
		res.Persisted = true
	}

	generatedTotal.WithLabelValues(tmpl.Type, "succeeded").Inc()
	log.Info("document generated",
		zap.String("document_id", doc.ID),
		zap.Int("word_count", doc.WordCount),
		zap.Int("tokens_in", tokensIn),
		zap.Int("tokens_out", tokensOut),
		zap.Float64("cost_usd", cost),
		zap.Int64("duration_ms", doc.DurationMs))
	return res, nil
}

// attachReferences builds a one-day vector store over fileIDs. Any failure is
// logged and generation continues without references.
func (s *Service) attachReferences(ctx context.Context, log *zap.Logger, userID string, fileIDs []string) string {
	if len(fileIDs) == 0 {
		return ""
	}

	vs, err := s.exec.CreateVectorStore(ctx, ai.VectorStoreParams{
		Name:         fmt.Sprintf("docgen-%d", s.now().UnixMilli()),
		ExpiresAfter: &ai.ExpiresAfter{Anchor: "last_active_at", Days: s.cfg.VectorStoreDays},
	}, userID)
	if err != nil {
		log.Warn("vector store creation failed, generating without references", zap.Error(err))
		return ""
	}

	if _, err := s.exec.CreateFileBatch(ctx, vs.ID, ai.FileBatchParams{FileIDs: fileIDs}, userID); err != nil {
		log.Warn("file batch failed, generating without references", zap.String("vector_store_id", vs.ID), zap.Error(err))
		s.cleanupVectorStore(context.WithoutCancel(ctx), log, userID, vs.ID)
		return ""
	}
	return vs.ID
}

// releaseReferences deletes the generation's vector store and returns its id
// only when the delete failed, so the document points at a store that still exists.
func (s *Service) releaseReferences(ctx context.Context, log *zap.Logger, userID, id string) string {
	if id == "" || s.cleanupVectorStore(context.WithoutCancel(ctx), log, userID, id) {
		return ""
	}
	return id
}

func (s *Service) cleanupVectorStore(ctx context.Context, log *zap.Logger, userID, id string) bool {
	if _, err := s.exec.DeleteVectorStore(ctx, id, userID); err != nil {
		log.Warn("vector store cleanup failed", zap.String("vector_store_id", id), zap.Error(err))
		return false
	}
	return true
}

// WordCount counts whitespace-separated words across every string in content.
func WordCount(content map[string]any) int {
	n := 0
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			n += len(strings.Fields(t))
		case []any:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(content)
	return n
}

func canRead(user *users.User, doc *storage.Document) bool {
	return user.IsAdmin() || doc.OwnerID == user.ID || doc.Visibility != storage.VisibilityPrivate
}

func canEdit(user *users.User, doc *storage.Document) bool {
	return user.IsAdmin() || doc.OwnerID == user.ID
}

func (s *Service) load(ctx context.Context, id string) (*storage.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

// Get returns a document the caller may read.
func (s *Service) Get(ctx context.Context, user *users.User, id string) (*storage.Document, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canRead(user, doc) {
		return nil, ErrForbidden
	}
	return doc, nil
}

type ListOptions struct {
	DocumentType string
	Status       string
	// MineOnly hides documents shared by other users.
	MineOnly bool
	Limit    int
	Offset   int
}

// List returns the caller's documents plus shared ones; admins see everything.
func (s *Service) List(ctx context.Context, user *users.User, opts ListOptions) ([]*storage.Document, error) {
	f := storage.DocumentFilters{
		Status: opts.Status,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	if opts.DocumentType != "" {
		f.DocumentType = normalizeType(opts.DocumentType)
	}
	switch {
	case opts.MineOnly:
		f.OwnerID = user.ID
	case !user.IsAdmin():
		f.OwnerID = user.ID
		f.IncludeShared = true
	}
	return s.store.ListDocuments(ctx, f)
}

// DocumentUpdate holds editable fields. Nil fields are left unchanged.
type DocumentUpdate struct {
	Title      *string        `json:"title,omitempty"`
	Visibility *string        `json:"visibility,omitempty"`
	Status     *string        `json:"status,omitempty"`
	Content    map[string]any `json:"content,omitempty"`
}

func (s *Service) Update(ctx context.Context, user *users.User, id string, upd DocumentUpdate) (*storage.Document, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canEdit(user, doc) {
		return nil, ErrForbidden
	}

	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		doc.Title = title
	}
	if upd.Visibility != nil {
		if !validVisibility(*upd.Visibility) {
			return nil, fmt.Errorf("%w: visibility %q", ErrInvalidInput, *upd.Visibility)
		}
		doc.Visibility = *upd.Visibility
	}
	if upd.Status != nil {
		if !validStatus(*upd.Status) {
			return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, *upd.Status)
		}
		doc.Status = *upd.Status
	}
	if upd.Content != nil {
		doc.Content = upd.Content
		doc.WordCount = WordCount(upd.Content)
	}
	doc.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update document %s: %w", id, err)
	}
	return doc, nil
}

func (s *Service) Delete(ctx context.Context, user *users.User, id string) error {
	doc, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !canEdit(user, doc) {
		return ErrForbidden
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

type RecentDocument struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	DocumentType string    `json:"document_type"`
	CreatedAt    time.Time `json:"created_at"`
}

type Telemetry struct {
	TotalDocs     int64            `json:"totalDocs"`
	ThisMonth     int64            `json:"thisMonth"`
	AvgDurationMs *float64         `json:"avgDurationMs"`
	Recent        []RecentDocument `json:"recent"`
}

// Telemetry summarizes the caller's own documents for the dashboard.
func (s *Service) Telemetry(ctx context.Context, user *users.User) (*Telemetry, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	total, err := s.store.CountDocuments(ctx, user.ID, time.Time{})
	if err != nil {
		return nil, err
	}
	thisMonth, err := s.store.CountDocuments(ctx, user.ID, monthStart)
	if err != nil {
		return nil, err
	}
	avg, err := s.store.AverageDuration(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.ListDocuments(ctx, storage.DocumentFilters{OwnerID: user.ID, Limit: recentLimit})
	if err != nil {
		return nil, err
	}

	t := &Telemetry{
		TotalDocs: total,
		ThisMonth: thisMonth,
		Recent:    make([]RecentDocument, 0, len(recent)),
	}
	if total > 0 {
		t.AvgDurationMs = &avg
	}
	for _, d := range recent {
		t.Recent = append(t.Recent, RecentDocument{ID: d.ID, Title: d.Title, DocumentType: d.DocumentType, CreatedAt: d.CreatedAt})
	}
	return t, nil
}

// GetVectorStore and DeleteVectorStore back the vector store manager.
func (s *Service) GetVectorStore(ctx context.Context, user *users.User, id string) (*ai.VectorStore, error) {
	return s.exec.RetrieveVectorStore(ctx, id, user.ID)
}

func (s *Service) DeleteVectorStore(ctx context.Context, user *users.User, id string) (*ai.Deletion, error) {
	return s.exec.DeleteVectorStore(ctx, id, user.ID)
}
