package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ngoyal88/docgen/pkg/documents"
	"github.com/ngoyal88/docgen/pkg/middleware"
	"github.com/ngoyal88/docgen/pkg/users"
)

type documentHandler struct {
	svc       *documents.Service
	maxUpload int64
	logger    *zap.Logger
}

func caller(r *http.Request) *users.User {
	u, _ := middleware.UserFromContext(r.Context())
	return u
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func (h *documentHandler) me(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, caller(r))
}

type templateInfo struct {
	Type     string                    `json:"type"`
	Name     string                    `json:"name"`
	Required []string                  `json:"required"`
	Schema   map[string]any            `json:"schema"`
	Checks   []documents.ChecklistItem `json:"checklist"`
}

func (h *documentHandler) templates(w http.ResponseWriter, r *http.Request) {
	out := make([]templateInfo, 0)
	for _, t := range documents.Types() {
		tmpl, _ := documents.Lookup(t)
		out = append(out, templateInfo{
			Type:     tmpl.Type,
			Name:     tmpl.Name,
			Required: tmpl.Required,
			Schema:   tmpl.Schema(),
			Checks:   tmpl.Checklist,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (h *documentHandler) generate(w http.ResponseWriter, r *http.Request) {
	var req documents.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := h.svc.Generate(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := http.StatusCreated
	if !res.Persisted {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (h *documentHandler) qa(w http.ResponseWriter, r *http.Request) {
	var req documents.QARequest
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := h.svc.RunQA(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func (h *documentHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	mine, _ := strconv.ParseBool(q.Get("mine"))

	docs, err := h.svc.List(r.Context(), caller(r), documents.ListOptions{
		DocumentType: q.Get("type"),
		Status:       q.Get("status"),
		MineOnly:     mine,
		Limit:        min(limit, 200),
		Offset:       offset,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
	})
}

func (h *documentHandler) get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *documentHandler) update(w http.ResponseWriter, r *http.Request) {
	var upd documents.DocumentUpdate
	if err := decodeJSON(r, &upd); err != nil {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	doc, err := h.svc.Update(r.Context(), caller(r), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *documentHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *documentHandler) telemetry(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Telemetry(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// upload accepts multipart/form-data with one or more "files" parts.
func (h *documentHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondMessage(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		respondMessage(w, http.StatusBadRequest, "Expected multipart/form-data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var files []documents.Upload
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, documents.MaxUploadBytes+1))
		_ = f.Close()
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		files = append(files, documents.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	uploaded, err := h.svc.UploadFiles(r.Context(), caller(r), files)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("upload failed", zap.Int("uploaded", len(uploaded)), zap.Error(err))
		}
		body := errorPayload(err, status)
		respondJSON(w, status, map[string]any{
			"error":      body.Error,
			"retryable":  body.Retryable,
			"retryCount": body.RetryCount,
			"files":      uploaded,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"files": uploaded})
}

func (h *documentHandler) getVectorStore(w http.ResponseWriter, r *http.Request) {
	vs, err := h.svc.GetVectorStore(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, vs)
}

func (h *documentHandler) deleteVectorStore(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DeleteVectorStore(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
