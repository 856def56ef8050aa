package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Routes bundles everything the router serves
type Routes struct {
	Handler       *Handler
	Contexts      *ContextHandler
	Events        http.Handler
	Metrics       http.Handler
	Observer      RequestObserver
	AllowedOrigin string
	Logger        *zap.Logger
}

// SetupRoutes configures all HTTP routes
func SetupRoutes(rt Routes) http.Handler {
	r := mux.NewRouter()
	h := rt.Handler

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics).Methods("GET")
	}

	// Event stream, registered ahead of the observed API subrouter
	if rt.Events != nil {
		r.Handle("/v1/events", rt.Events).Methods("GET")
	}

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()
	api.Use(ObserveMiddleware(rt.Observer, rt.Logger))

	// Service endpoints
	api.HandleFunc("/services", h.ListServices).Methods("GET")
	api.HandleFunc("/services/{service}/open", h.OpenService).Methods("POST")
	api.HandleFunc("/services/{service}/login", h.RequestLogin).Methods("POST")
	api.HandleFunc("/services/{service}/login", h.GetLogin).Methods("GET")
	api.HandleFunc("/services/{service}/login/refresh", h.RefreshLogin).Methods("POST")
	api.HandleFunc("/services/{service}/login/close", h.CloseLogin).Methods("POST")
	api.HandleFunc("/services/{service}/cookies", h.InjectCookies).Methods("POST")

	// View endpoints
	api.HandleFunc("/views", h.ListViews).Methods("GET")
	api.HandleFunc("/views/{service}", h.GetView).Methods("GET")

	// Context endpoints
	api.HandleFunc("/contexts", rt.Contexts.ListContexts).Methods("GET")
	api.HandleFunc("/contexts/{id}", rt.Contexts.GetContext).Methods("GET")
	api.HandleFunc("/contexts/{id}/export", rt.Contexts.ExportContext).Methods("GET")
	api.HandleFunc("/contexts/{id}/import", rt.Contexts.ImportContext).Methods("POST")

	origin := rt.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	return corsMiddleware(origin)(r)
}
