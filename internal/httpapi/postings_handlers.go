package httpapi

import (
	"net/http"
	"strings"

	"jobfeed-engine/internal/store"
)

var validWindows = map[string]bool{"": true, "24h": true, "7d": true, "30d": true, "all": true}

type PostingsHandler struct {
	Store store.Store
}

func (h PostingsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window := q.Get("window")
	if !validWindows[window] {
		WriteError(w, r, http.StatusBadRequest, "invalid_window", "window must be one of 24h, 7d, 30d, all")
		return
	}
	limit, ok := intParam(r, "limit", 200, 2000)
	if !ok {
		WriteError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}

	postings, err := h.Store.RecentPostings(r.Context(), store.PostingQuery{
		SourceID: strings.TrimSpace(q.Get("source")),
		Window:   window,
		Limit:    limit,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, postings)
}
