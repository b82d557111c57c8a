package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/previewhq/preview-core/archive"
	"github.com/previewhq/preview-core/launch"
	"github.com/previewhq/preview-core/ports"
	"github.com/previewhq/preview-core/project"
	"github.com/previewhq/preview-core/proxy"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeStartError maps a failed start to its taxonomy code. Client-side
// problems (bad archive, not a project) are 4xx; capacity and launch
// failures are 5xx.
func writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, archive.ErrExtraction):
		writeError(w, http.StatusUnprocessableEntity, "extraction_failed", err.Error())
	case errors.Is(err, project.ErrNoProject):
		writeError(w, http.StatusUnprocessableEntity, "invalid_project", err.Error())
	case errors.Is(err, project.ErrInstall):
		writeError(w, http.StatusUnprocessableEntity, "install_failed", err.Error())
	case errors.Is(err, ports.ErrPortExhausted):
		writeError(w, http.StatusServiceUnavailable, "port_exhausted", err.Error())
	case errors.Is(err, launch.ErrSpawn):
		writeError(w, http.StatusInternalServerError, "spawn_failed", err.Error())
	case errors.Is(err, launch.ErrLaunchTimeout):
		writeError(w, http.StatusGatewayTimeout, "launch_timeout", err.Error())
	case errors.Is(err, proxy.ErrProxyTargetMissing):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
