package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"jobfeed-engine/internal/store"
)

type StatusHandler struct {
	Status StatusReader
}

// Get serves the aggregated source health. It only reads the last report.
func (h StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.Status.Current())
}

type RunsHandler struct {
	Store store.Store
}

func (h RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", 50, 500)
	if !ok {
		WriteError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	runs, err := h.Store.RecentRuns(r.Context(), strings.TrimSpace(r.URL.Query().Get("source")), limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(runs)))
	WriteJSON(w, http.StatusOK, runs)
}
