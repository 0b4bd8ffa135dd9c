package httpapi

import (
	stderrors "errors"
	"net/http"
	"strings"

	"jobfeed-engine/internal/scheduler"
)

type SourcesHandler struct {
	Scheduler Triggerer
}

// RunByPath expects POST /sources/{id}/run and queues an immediate cycle.
func (h SourcesHandler) RunByPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sources/")
	id, ok := strings.CutSuffix(rest, "/run")
	if !ok || id == "" || strings.Contains(id, "/") {
		WriteError(w, r, http.StatusNotFound, "not_found", "expected /sources/{id}/run")
		return
	}
	if err := h.Scheduler.Trigger(id); err != nil {
		if stderrors.Is(err, scheduler.ErrUnknownSource) {
			WriteError(w, r, http.StatusNotFound, "unknown_source", err.Error())
			return
		}
		WriteError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"ok": true, "source": id})
}
