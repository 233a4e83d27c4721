package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Workflows
	mux.Handle("GET /api/v1/workflows", chain(http.HandlerFunc(h.ListWorkflows)))
	mux.Handle("POST /api/v1/workflows/{name}/processes", chain(http.HandlerFunc(h.StartProcess)))

	// Processes
	mux.Handle("GET /api/v1/processes", chain(http.HandlerFunc(h.ListProcesses)))
	mux.Handle("GET /api/v1/processes/{id}", chain(http.HandlerFunc(h.GetProcess)))
	mux.Handle("GET /api/v1/processes/{id}/steps", chain(http.HandlerFunc(h.ListProcessSteps)))
	mux.Handle("POST /api/v1/processes/{id}/resume", chain(http.HandlerFunc(h.ResumeProcess)))
	mux.Handle("POST /api/v1/processes/{id}/retry", chain(http.HandlerFunc(h.RetryProcess)))
	mux.Handle("POST /api/v1/processes/{id}/abort", chain(http.HandlerFunc(h.AbortProcess)))

	// Callbacks
	mux.Handle("GET /api/v1/callbacks/{token}", chain(http.HandlerFunc(h.GetCallback)))
	mux.Handle("POST /api/v1/callbacks/{token}", chain(http.HandlerFunc(h.DeliverCallback)))
	mux.Handle("POST /api/v1/callbacks/{token}/progress", chain(http.HandlerFunc(h.CallbackProgress)))

	// Engine
	mux.Handle("GET /api/v1/engine", chain(http.HandlerFunc(h.GetEngine)))
	mux.Handle("POST /api/v1/engine/pause", chain(http.HandlerFunc(h.PauseEngine)))
	mux.Handle("POST /api/v1/engine/resume", chain(http.HandlerFunc(h.ResumeEngine)))

	// Subjects
	mux.Handle("POST /api/v1/subjects", chain(http.HandlerFunc(h.CreateSubject)))
	mux.Handle("GET /api/v1/subjects", chain(http.HandlerFunc(h.ListSubjects)))
	mux.Handle("GET /api/v1/subjects/{id}", chain(http.HandlerFunc(h.GetSubject)))
}
