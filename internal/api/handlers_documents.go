package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ragengine/internal/indexing"
)

const maxUploadBytes = 64 << 20 // 64MiB per request, matching the engine's bounded ingestion surface.

// uploadedFile is the per-file entry in POST /upload's response.
type uploadedFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Upload serves POST /upload: a multipart form whose "files" parts are
// written into the data root's documents/ directory, verbatim, under
// their original (path-sanitized) names. Uploaded files are not indexed
// synchronously; a subsequent /reindex or /reindex/async call picks them
// up.
func (s *AppState) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form: " + err.Error()})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no files provided under form field \"files\""})
		return
	}

	docsDir := s.Config.Data.DocumentsDir()
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		writeAppError(w, wrapIO("create documents directory", err), false)
		return
	}

	out := make([]uploadedFile, 0, len(files))
	for _, fh := range files {
		name, ok := sanitizeDocumentName(fh.Filename)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file name: " + fh.Filename})
			return
		}

		src, err := fh.Open()
		if err != nil {
			writeAppError(w, wrapIO("open uploaded file", err), false)
			return
		}
		n, err := saveUpload(filepath.Join(docsDir, name), src)
		_ = src.Close()
		if err != nil {
			writeAppError(w, wrapIO("save uploaded file", err), false)
			return
		}
		out = append(out, uploadedFile{Name: name, Size: n})
	}

	writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

func saveUpload(path string, src io.Reader) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer dst.Close()
	return io.Copy(dst, src)
}

// sanitizeDocumentName keeps only the last path element of name, so no
// upload can escape the documents directory, and rejects an empty
// result, "." and "..", matching the
// pipeline's assumption that doc ids are derived from flat relative
// paths under documents/.
func sanitizeDocumentName(name string) (string, bool) {
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}

type documentInfo struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	MTime       time.Time `json:"mtime"`
	ContentType string    `json:"content_type"`
}

// ListDocuments serves GET /documents: the flat listing of files
// currently under the data root's documents/ directory.
func (s *AppState) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docsDir := s.Config.Data.DocumentsDir()
	entries, err := os.ReadDir(docsDir)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]any{"documents": []documentInfo{}})
			return
		}
		writeAppError(w, wrapIO("list documents directory", err), true)
		return
	}

	docs := make([]documentInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		docs = append(docs, documentInfo{
			Name:        e.Name(),
			Size:        info.Size(),
			MTime:       info.ModTime().UTC(),
			ContentType: contentTypeLabel(e.Name()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func contentTypeLabel(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "pdf"
	case ".txt", ".md", ".markdown":
		return "text"
	default:
		return "unknown"
	}
}

// DeleteDocument serves DELETE /documents/{name}: removes the file from
// disk and, best-effort, its chunks and vectors from the live index so
// results reflect the deletion immediately rather than only after the
// next reindex.
func (s *AppState) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	name, ok := sanitizeDocumentName(chi.URLParam(r, "name"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document name"})
		return
	}

	path := filepath.Join(s.Config.Data.DocumentsDir(), name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
			return
		}
		writeAppError(w, wrapIO("delete document", err), false)
		return
	}

	docID := indexing.StableHash(name)
	if err := s.Retriever.DeleteDocument(r.Context(), docID); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to remove document from live index after delete", "name", name, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
