package middleware

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"peersupport-chat/api"
	"peersupport-chat/internal/observability"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// OpenAPIValidatorConfig controls which traffic is checked against the API document
type OpenAPIValidatorConfig struct {
	Enabled bool
	// Spec is the OpenAPI document, usually api.OpenAPI
	Spec              []byte
	ValidateRequests  bool
	ValidateResponses bool
	// SkipPaths bypass validation, matched exactly or as a path prefix
	SkipPaths []string
}

// DefaultOpenAPIValidatorConfig validates requests against the embedded document
func DefaultOpenAPIValidatorConfig() *OpenAPIValidatorConfig {
	return &OpenAPIValidatorConfig{
		Enabled:          true,
		Spec:             api.OpenAPI,
		ValidateRequests: true,
		SkipPaths:        []string{"/health", "/metrics", "/ws"},
	}
}

// OpenAPIValidator rejects requests that do not match the API document with 400.
// A document that fails to load disables validation instead of failing startup.
func OpenAPIValidator(config *OpenAPIValidatorConfig) func(next http.Handler) http.Handler {
	if config == nil {
		config = DefaultOpenAPIValidatorConfig()
	}
	passthrough := func(next http.Handler) http.Handler { return next }

	if !config.Enabled {
		slog.Info("OpenAPI validation disabled")
		return passthrough
	}

	router, err := newSpecRouter(config.Spec)
	if err != nil {
		slog.Error("OpenAPI validation unavailable", slog.String("error", err.Error()))
		return passthrough
	}

	slog.Info("OpenAPI validation enabled",
		slog.Bool("validate_requests", config.ValidateRequests),
		slog.Bool("validate_responses", config.ValidateResponses))

	return func(next http.Handler) http.Handler {
		return &specValidator{config: config, router: router, next: next}
	}
}

func newSpecRouter(spec []byte) (routers.Router, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
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

type specValidator struct {
	config *OpenAPIValidatorConfig
	router routers.Router
	next   http.Handler
}

// Bearer checks belong to Auth, so security requirements are not enforced here
var filterOptions = &openapi3filter.Options{
	AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
}

func (v *specValidator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if shouldSkipPath(r.URL.Path, v.config.SkipPaths) {
		v.next.ServeHTTP(w, r)
		return
	}

	logger := observability.FromContext(r.Context()).With(
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))

	route, pathParams, err := v.router.FindRoute(r)
	if err != nil {
		if !v.config.ValidateRequests {
			v.next.ServeHTTP(w, r)
			return
		}
		logger.Warn("request path not documented")
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Path not documented: %s %s", r.Method, r.URL.Path))
		return
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options:    filterOptions,
	}

	if v.config.ValidateRequests {
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			logger.Warn("request validation failed", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusBadRequest, "Request validation failed: "+err.Error())
			return
		}
	}

	if !v.config.ValidateResponses {
		v.next.ServeHTTP(w, r)
		return
	}

	rec := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
	v.next.ServeHTTP(rec, r)

	// The response is already on the wire, so a mismatch is only logged
	err = openapi3filter.ValidateResponse(r.Context(), &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 rec.status,
		Header:                 rec.Header(),
		Body:                   io.NopCloser(bytes.NewReader(rec.body.Bytes())),
		Options:                filterOptions,
	})
	if err != nil {
		logger.Warn("response validation failed",
			slog.Int("status", rec.status),
			slog.String("error", err.Error()))
	}
}

// shouldSkipPath matches a skip entry exactly or as a parent path segment
func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skip := range skipPaths {
		if path == skip || strings.HasPrefix(path, strings.TrimSuffix(skip, "/")+"/") {
			return true
		}
	}
	return false
}

// bodyRecorder tees the response so it can be validated after the handler returns
type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *bodyRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
