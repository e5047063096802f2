package documents

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoyal88/docgen/pkg/ai"
	"github.com/ngoyal88/docgen/pkg/users"
)

// MaxUploadBytes is the per-file size limit.
const MaxUploadBytes = 50 << 20

var allowedUploadTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
	"text/csv":   true,
}

// Upload is one reference file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type UploadedFile struct {
	Name   string `json:"name"`
	FileID string `json:"file_id"`
}

// ValidateUpload checks the size limit and the MIME whitelist. An empty content
// type is accepted because browsers often omit it for Word files.
func ValidateUpload(u Upload) error {
	if len(u.Data) > MaxUploadBytes {
		return fmt.Errorf("%w: %s", ErrFileTooLarge, u.Filename)
	}
	if u.ContentType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(u.ContentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(u.ContentType))
	}
	if !allowedUploadTypes[mediaType] {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, u.ContentType)
	}
	return nil
}

// UploadFiles validates every file before sending any, then uploads them in
// order. On failure the files uploaded so far are returned with the error.
func (s *Service) UploadFiles(ctx context.Context, user *users.User, files []Upload) ([]UploadedFile, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	for _, f := range files {
		if err := ValidateUpload(f); err != nil {
			return nil, err
		}
	}

	out := make([]UploadedFile, 0, len(files))
	for _, f := range files {
		res, err := s.exec.CreateFile(ctx, ai.FileParams{
			Filename:    f.Filename,
			Purpose:     "assistants",
			ContentType: f.ContentType,
			Data:        f.Data,
		}, user.ID)
		if err != nil {
			return out, fmt.Errorf("upload %s: %w", f.Filename, err)
		}
		uploadedBytes.Add(float64(len(f.Data)))
		out = append(out, UploadedFile{Name: f.Filename, FileID: res.ID})
	}
	s.logger.Info("reference files uploaded", zap.String("user_id", user.ID), zap.Int("count", len(out)))
	return out, nil
}
