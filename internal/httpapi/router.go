package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// NewMux wires every read endpoint plus the manual trigger.
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	hh := HealthHandler{}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))

	// Status feed
	sh := StatusHandler{Status: d.Status}
	mux.HandleFunc("/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: sh.Get,
	}))

	rh := RunsHandler{Store: d.Store}
	mux.HandleFunc("/runs", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: rh.List,
	}))

	ph := PostingsHandler{Store: d.Store}
	mux.HandleFunc("/postings", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ph.List,
	}))

	srch := SourcesHandler{Scheduler: d.Scheduler}
	mux.HandleFunc("/sources/", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: srch.RunByPath, // expects /sources/{id}/run
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Hub, Status: d.Status}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	return mux
}

// NewHandler is NewMux behind the standard middleware chain.
func NewHandler(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return Chain(NewMux(d), RequestID, Recover(d.Logger), AccessLog(d.Logger), Cors)
}
