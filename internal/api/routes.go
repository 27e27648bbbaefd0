package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"shaper/internal/models"
)

type routeConfig struct {
	otelService string
	rateLimiter func(http.Handler) http.Handler
}

// RouteOption configures optional route behavior.
type RouteOption func(*routeConfig)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(c *routeConfig) { c.otelService = serviceName }
}

// WithRateLimiter applies middleware to the /api/v1/resource routes only.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(c *routeConfig) { c.rateLimiter = middleware }
}

// SetupRoutes configures the HTTP routes for the mock upstream
func SetupRoutes(handlers *Handlers, opts ...RouteOption) *mux.Router {
	var cfg routeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	router := mux.NewRouter()

	if cfg.otelService != "" {
		router.Use(otelmux.Middleware(cfg.otelService,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/api/v1/openapi.yaml" &&
					r.URL.Path != "/api/v1/docs"
			}),
		))
	}

	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	api.HandleFunc("/version", handlers.GetVersion).Methods("GET")
	api.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	api.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods("GET")

	limited := api.PathPrefix("/resource").Subrouter()
	if cfg.rateLimiter != nil {
		limited.Use(cfg.rateLimiter)
	}
	limited.HandleFunc("", handlers.GetResource).Methods("GET", "POST")

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(models.NewErrorResponse("Not found", models.ErrorCodeNotFound))
	})

	return router
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeMethodNotAllowed)
	json.NewEncoder(w).Encode(errorResp)
}
