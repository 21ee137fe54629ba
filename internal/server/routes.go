package server

import "net/http"

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(deps Deps) http.Handler {
	return newMux(deps)
}

func newMux(deps Deps) http.Handler {
	h := &handler{
		reports:  deps.Reports,
		runner:   deps.Runner,
		jobs:     deps.Jobs,
		tracker:  deps.Tracker,
		registry: deps.Registry,
		settings: deps.Settings,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /api/v1/uploads", h.upload)
	mux.HandleFunc("POST /api/v1/jobs", h.startJob)
	mux.HandleFunc("GET /api/v1/jobs", h.listJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.getJob)
	mux.HandleFunc("GET /api/v1/status", h.status)
	mux.HandleFunc("GET /api/v1/report", h.listReport)
	mux.HandleFunc("PATCH /api/v1/report/{id}", h.updateRow)
	mux.HandleFunc("DELETE /api/v1/report/{id}", h.deleteRow)
	mux.HandleFunc("POST /api/v1/report/{id}/move", h.moveRow)
	mux.HandleFunc("GET /api/v1/stats", h.stats)
	mux.HandleFunc("GET /api/v1/config", h.getConfig)
	mux.HandleFunc("PUT /api/v1/config", h.updateConfig)
	mux.HandleFunc("GET /images/{name}", h.serveImage)

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
