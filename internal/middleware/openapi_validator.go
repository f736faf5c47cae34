package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"yakkl-background/internal/observability"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// OpenAPIValidatorConfig controls checking of REST traffic against the API document
type OpenAPIValidatorConfig struct {
	Enabled  bool
	SpecPath string

	ValidateRequests bool
	// ValidateResponses only logs mismatches; the response is already on the wire
	ValidateResponses bool

	// SkipPaths match exactly, or by prefix when they end in "/" and are not "/"
	SkipPaths []string
}

// DefaultOpenAPIValidatorConfig returns the configuration used by the server.
// Validation runs everywhere except production.
func DefaultOpenAPIValidatorConfig(specPath string, production bool) *OpenAPIValidatorConfig {
	return &OpenAPIValidatorConfig{
		Enabled:           !production,
		SpecPath:          specPath,
		ValidateRequests:  true,
		ValidateResponses: false,
		SkipPaths: []string{
			"/health",
			"/health/ready",
			"/metrics",
		},
	}
}

func passThrough(next http.Handler) http.Handler {
	return next
}

// apiValidator checks requests against the routes of one loaded document
type apiValidator struct {
	config *OpenAPIValidatorConfig
	router routers.Router
}

// OpenAPIValidator rejects REST requests that the API document does not allow.
// A document that cannot be loaded disables validation instead of the server.
func OpenAPIValidator(config *OpenAPIValidatorConfig) func(next http.Handler) http.Handler {
	if config == nil {
		config = DefaultOpenAPIValidatorConfig("artifacts/openapi.yaml", false)
	}
	if !config.Enabled {
		slog.Info("OpenAPI validation disabled")
		return passThrough
	}

	router, err := loadRouter(config.SpecPath)
	if err != nil {
		slog.Error("OpenAPI validation unavailable",
			slog.String("path", config.SpecPath),
			slog.String("error", err.Error()))
		return passThrough
	}

	slog.Info("OpenAPI validation enabled",
		slog.Bool("validate_requests", config.ValidateRequests),
		slog.Bool("validate_responses", config.ValidateResponses),
		slog.String("spec_path", config.SpecPath))

	v := &apiValidator{config: config, router: router}
	return v.middleware
}

func loadRouter(path string) (routers.Router, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	return router, nil
}

func (v *apiValidator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipPath(r.URL.Path, v.config.SkipPaths) {
			next.ServeHTTP(w, r)
			return
		}

		log := observability.FromContext(r.Context()).With(
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))

		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			if !v.config.ValidateRequests {
				next.ServeHTTP(w, r)
				return
			}
			observability.APIValidationFailuresTotal.WithLabelValues("request").Inc()
			log.Warn("request path not documented")
			writeValidationError(w, fmt.Sprintf("Path not found in OpenAPI spec: %s %s", r.Method, r.URL.Path))
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				// Bearer tokens are checked by the Auth middleware
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}

		if v.config.ValidateRequests {
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				observability.APIValidationFailuresTotal.WithLabelValues("request").Inc()
				log.Warn("request validation failed", slog.String("error", err.Error()))
				writeValidationError(w, fmt.Sprintf("Request validation failed: %s", err.Error()))
				return
			}
		}

		if !v.config.ValidateResponses {
			next.ServeHTTP(w, r)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		if err := openapi3filter.ValidateResponse(r.Context(), &openapi3filter.ResponseValidationInput{
			RequestValidationInput: input,
			Status:                 recorder.statusCode,
			Header:                 recorder.Header(),
			Body:                   io.NopCloser(bytes.NewReader(recorder.body)),
			Options: &openapi3filter.Options{
				AuthenticationFunc:    openapi3filter.NoopAuthenticationFunc,
				IncludeResponseStatus: true,
			},
		}); err != nil {
			observability.APIValidationFailuresTotal.WithLabelValues("response").Inc()
			log.Warn("response does not match document",
				slog.Int("status", recorder.statusCode),
				slog.String("error", err.Error()))
		}
	})
}

// shouldSkipPath reports whether path bypasses validation. Entries match
// exactly unless they end in "/", in which case they match as a prefix.
// A bare "/" only ever matches the root.
func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skipPath := range skipPaths {
		if path == skipPath {
			return true
		}
		if len(skipPath) > 1 && strings.HasSuffix(skipPath, "/") && strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

func writeValidationError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// responseRecorder keeps a copy of the body for response validation
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}
