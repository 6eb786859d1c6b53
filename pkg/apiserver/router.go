package apiserver

import "net/http"

// setupRouter wires the mux and wraps it in the middleware chain.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.middlewareChain(mux)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/task", s.handleTask)
	mux.HandleFunc("/helius/webhook", s.handleHeliusWebhook)
}

// middlewareChain applies middleware outermost-first: panic recovery wraps
// everything, then request logging, then CORS closest to the handlers (so
// an OPTIONS preflight never reaches the mux).
func (s *Server) middlewareChain(handler http.Handler) http.Handler {
	handler = s.middlewareCORS(handler)
	handler = s.middlewareLogging(handler)
	handler = s.middlewarePanicRecovery(handler)
	return handler
}
