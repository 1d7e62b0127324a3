package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"beacongraph/core-go/internal/capture"
	"beacongraph/core-go/internal/console"
)

const uploadFormField = "files"

type dragDropFile struct {
	Name     string `json:"name"`
	Contents string `json:"contents"`
}

type dragDropRequest struct {
	Files []dragDropFile `json:"files"`
}

// handleUpload accepts the button surface: a multipart form with one or
// more "files" parts.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeUploadDecodeError(w, err)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	headers := r.MultipartForm.File[uploadFormField]
	if len(headers) == 0 {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "no files in upload", map[string]any{"field": uploadFormField})
		return
	}
	files := make([]capture.RawUpload, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "unreadable upload part", map[string]any{"file": fh.Filename, "error": err.Error()})
			return
		}
		files = append(files, capture.RawUpload{Name: fh.Filename, Data: data})
	}

	view, err := s.Upload(r.Context(), console.SurfaceButton, files)
	h.writeEventResult(w, r, view, err)
}

// handleDragDrop accepts the drag-and-drop surface, whose contents arrive as
// browser data URLs.
func (h *Handler) handleDragDrop(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	var req dragDropRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeUploadDecodeError(w, err)
		return
	}
	files := make([]capture.RawUpload, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, capture.RawUpload{Name: f.Name, Data: []byte(f.Contents)})
	}

	view, err := s.Upload(r.Context(), console.SurfaceDragDrop, files)
	h.writeEventResult(w, r, view, err)
}

func (h *Handler) writeUploadDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds size limit", map[string]any{"limit_bytes": tooLarge.Limit})
		return
	}
	h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid upload body", map[string]any{"error": err.Error()})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return data, nil
}
