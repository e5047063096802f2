package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoyal88/docgen/pkg/ai"
	"github.com/ngoyal88/docgen/pkg/users"
)

const qaSystemPrompt = "You are a professional document QA reviewer. Provide thorough, constructive feedback in the exact JSON format requested."

type QARequest struct {
	DocumentID   string         `json:"documentId,omitempty"`
	Draft        map[string]any `json:"draftJson,omitempty"`
	DocumentType string         `json:"documentType"`
	FileIDs      []string       `json:"fileIds,omitempty"`
}

type ChecklistResult struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	Status      string   `json:"status"`
	Score       float64  `json:"score"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions"`
}

type QAResult struct {
	Score             float64           `json:"score"`
	OverallAssessment string            `json:"overallAssessment"`
	ChecklistResults  []ChecklistResult `json:"checklistResults"`
	Gaps              []string          `json:"gaps"`
	Recommendations   []string          `json:"recommendations"`
	Fixed             map[string]any    `json:"fixed,omitempty"`
}

type QAResponse struct {
	QA         *QAResult `json:"qa"`
	Usage      *ai.Usage `json:"usage,omitempty"`
	ScoreSaved bool      `json:"scoreSaved"`
}

func qaPrompt(docType string, draft map[string]any, checklist []ChecklistItem) (string, error) {
	body, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: draft is not serializable: %v", ErrInvalidInput, err)
	}

	var b strings.Builder
	b.WriteString("You are a professional document quality assurance reviewer. Analyze the following document draft and provide a comprehensive QA assessment.\n\n")
	fmt.Fprintf(&b, "Document Type: %s\nDocument Content: %s\n\nQuality Checklist:\n", docType, body)
	for _, item := range checklist {
		fmt.Fprintf(&b, "- [%s] %s (Weight: %d%%)\n", item.ID, item.Question, item.Weight)
	}
	b.WriteString(`
For each checklist item, evaluate:
1. Pass/Fail status
2. Specific gaps or issues identified
3. Suggested improvements

Additionally, provide:
- Overall quality score (0-100)
- Critical gaps that must be addressed
- Optional: A revised/improved version of the document if significant issues are found

Respond with a structured JSON format:
{
  "score": number (0-100),
  "overallAssessment": "string",
  "checklistResults": [
    {"id": "string", "question": "string", "status": "pass" | "fail" | "partial", "score": number, "feedback": "string", "suggestions": ["string"]}
  ],
  "gaps": ["string array of critical issues"],
  "recommendations": ["string array of improvement suggestions"],
  "fixed": null | object (improved version if needed)
}`)
	return b.String(), nil
}

// RunQA reviews a draft against the type's weighted checklist. When the draft
// comes from a stored document the caller may edit, the score is saved on it.
func (s *Service) RunQA(ctx context.Context, user *users.User, req QARequest) (*QAResponse, error) {
	draft := req.Draft
	docType := req.DocumentType

	var docID string
	if req.DocumentID != "" {
		doc, err := s.Get(ctx, user, req.DocumentID)
		if err != nil {
			return nil, err
		}
		docID = doc.ID
		if draft == nil {
			draft = doc.Content
		}
		if docType == "" {
			docType = doc.DocumentType
		}
	}
	if len(draft) == 0 || strings.TrimSpace(docType) == "" {
		return nil, fmt.Errorf("%w: draftJson and documentType are required", ErrInvalidInput)
	}

	tmpl := TemplateFor(docType)
	prompt, err := qaPrompt(docType, draft, tmpl.Checklist)
	if err != nil {
		return nil, err
	}

	temp := qaTemperature
	completion, err := s.exec.ChatCompletion(ctx, ai.ChatCompletionParams{
		Model: s.cfg.QAModel,
		Messages: []ai.Message{
			{Role: "system", Content: qaSystemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &ai.ResponseFormat{Type: "json_object"},
		Temperature:    &temp,
	}, req.FileIDs, user.ID)
	if err != nil {
		return nil, fmt.Errorf("qa %s: %w", tmpl.Type, err)
	}

	raw := completion.Content()
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	var result QAResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	result.Score = math.Round(min(max(result.Score, 0), 100))
	qaScores.WithLabelValues(tmpl.Type).Observe(result.Score)

	resp := &QAResponse{QA: &result, Usage: completion.Usage}
	if docID != "" {
		resp.ScoreSaved = s.saveScore(ctx, user, docID, int(result.Score))
	}
	return resp, nil
}

func (s *Service) saveScore(ctx context.Context, user *users.User, id string, score int) bool {
	doc, err := s.load(ctx, id)
	if err != nil || !canEdit(user, doc) {
		return false
	}
	doc.QAScore = &score
	doc.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		s.logger.Warn("failed to store qa score", zap.String("document_id", id), zap.Error(err))
		return false
	}
	return true
}
