package server

import (
	"log/slog"
	"net/http"

	"spend-dashboard/internal/handlers"
	"spend-dashboard/internal/reports"
	"spend-dashboard/internal/services"
)

// Server routes the dashboard page, the JSON views and the Datastar streams.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
	routes []string
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
}

func NewServer(analytics *services.Analytics, logger *slog.Logger, templateHandlers *TemplateHandlers) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.setupRoutes(
		handlers.NewAPIHandlers(analytics, logger),
		handlers.NewSSEHandlers(analytics, logger),
		templateHandlers,
	)
	logger.Debug("routes registered", "count", len(s.routes))
	return s
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, h)
	s.routes = append(s.routes, pattern)
}

func (s *Server) setupRoutes(api *handlers.APIHandlers, sse *handlers.SSEHandlers, templateHandlers *TemplateHandlers) {
	s.handle("GET /{$}", templateHandlers.Dashboard)
	s.handle("GET /health", api.HandleHealth)
	s.handle("GET /admin/stats", api.HandleStats)

	s.handle("GET /api/report", api.HandleReport)
	s.handle("GET /api/monthly", api.HandleMonthly)
	s.handle("GET /sse/monthly", sse.HandleMonthly)
	s.handle("GET /sse/refresh-all", sse.HandleRefreshAll)

	// Every other view is served twice: as JSON and as a panel patch.
	for _, name := range reports.Views {
		if name == "monthly" {
			continue
		}
		s.handle("GET /api/"+name, api.HandleView(name))
		s.handle("GET /sse/"+name, sse.HandleSection(name))
	}
}

// Routes lists the registered patterns in registration order.
func (s *Server) Routes() []string {
	return s.routes
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
