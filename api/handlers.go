package api

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/previewhq/preview-core/preview"
	"github.com/previewhq/preview-core/registry"
)

// maxUploadSize caps an uploaded archive.
const maxUploadSize = 256 << 20

// PreviewHandler serves the preview control endpoints.
type PreviewHandler struct {
	svc *preview.Service
}

// NewPreviewHandler creates the handler over the orchestrator service.
func NewPreviewHandler(svc *preview.Service) *PreviewHandler {
	return &PreviewHandler{svc: svc}
}

type sessionResponse struct {
	ID         string    `json:"sessionId"`
	PreviewURL string    `json:"previewUrl,omitempty"`
	DirectURL  string    `json:"directUrl,omitempty"`
	Framework  string    `json:"framework"`
	Strategy   string    `json:"strategy"`
	Port       int       `json:"port"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (h *PreviewHandler) sessionJSON(sess *registry.PreviewSession, withURL bool) sessionResponse {
	resp := sessionResponse{
		ID:        sess.ID,
		Framework: sess.Framework,
		Strategy:  sess.Strategy,
		Port:      sess.Port,
		CreatedAt: sess.CreatedAt,
	}
	if withURL {
		resp.PreviewURL = h.svc.Config.BaseURL() + "/preview/" + sess.ID + "/"
	}
	return resp
}

// Start handles POST /api/previews. A JSON body names an existing
// project directory to preview in place; otherwise the project archive
// arrives as a multipart upload under the "archive" field, with the raw
// request body accepted as a fallback for curl-style clients.
func (h *PreviewHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req preview.Request

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			ProjectDir string `json:"projectDir"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProjectDir == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "projectDir is required")
			return
		}
		req.ProjectDir = body.ProjectDir
	} else {
		archivePath, cleanup, err := h.receiveArchive(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_upload", err.Error())
			return
		}
		defer cleanup()
		req.ArchivePath = archivePath
	}

	res, err := h.svc.Start(r.Context(), req)
	if err != nil {
		writeStartError(w, err)
		return
	}

	resp := h.sessionJSON(res.Session, false)
	resp.PreviewURL = res.PreviewURL
	resp.DirectURL = res.DirectURL
	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /api/previews.
func (h *PreviewHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.svc.Store.List()
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, h.sessionJSON(sess, true))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// Health handles GET /api/previews/{id}/health.
func (h *PreviewHandler) Health(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, healthy, err := h.svc.Health(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      sess.ID,
		"healthy": healthy,
		"port":    sess.Port,
		"ageSec":  int(sess.Age().Seconds()),
	})
}

// Stop handles DELETE /api/previews/{id}. Stopping is idempotent: a
// session that is already gone still answers 200 so callers can retry
// freely.
func (h *PreviewHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stopped := h.svc.Stop(id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "stopped": stopped})
}

// receiveArchive persists the uploaded archive to a temp file and returns
// its path with a cleanup func.
func (h *PreviewHandler) receiveArchive(r *http.Request) (string, func(), error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadSize)

	var src io.Reader = r.Body
	if mf, _, err := r.FormFile("archive"); err == nil {
		defer mf.Close()
		src = mf
	}

	tmp, err := os.CreateTemp("", "preview-upload-*.zip")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}
