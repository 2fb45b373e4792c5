package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/auditbox/config"
	"github.com/isdmx/auditbox/engine"
	"github.com/isdmx/auditbox/report"
	"github.com/isdmx/auditbox/workspace"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// multipartOverhead is allowed on top of the upload limit for form framing
const multipartOverhead = 1 << 20

// Router serves the REST API
type Router struct {
	logger   *zap.Logger
	analyzer engine.Analyzer
	maxBytes int64
}

// httpError is a transport-level rejection that never reached the engine
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string {
	return e.message
}

// NewRouter builds the chi router with CORS, request ids and access logging
func NewRouter(logger *zap.Logger, cfg *config.Config, analyzer engine.Analyzer) http.Handler {
	r := &Router{
		logger:   logger,
		analyzer: analyzer,
		maxBytes: cfg.MaxUploadBytes(),
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	mux.Use(r.requestID)
	mux.Use(r.accessLog)

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Post("/audit", r.wrap(r.handleAuditArchive))
	mux.Post("/audit/source", r.wrap(r.handleAuditSource))

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps handler errors to status codes. Engine failures carry the failed
// report as body; nothing beyond PublicMessage reaches the client.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		var he *httpError
		if errors.As(err, &he) {
			writeJSON(w, he.status, map[string]string{"error": he.message})
			return
		}

		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				map[string]string{"error": fmt.Sprintf("upload exceeds %d bytes", r.maxBytes)})
			return
		}

		var ee *engine.Error
		if errors.As(err, &ee) {
			writeJSON(w, statusForKind(ee.Kind), report.Failed(engine.PublicMessage(err)))
			return
		}

		r.logger.Error("unhandled request error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func statusForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindInput:
		return http.StatusUnprocessableEntity
	case engine.KindToolUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// POST /audit
// Multipart form with a "file" field holding a .zip, .tar.gz, .tgz or .tar.zst archive.
func (r *Router) handleAuditArchive(w http.ResponseWriter, req *http.Request) error {
	if req.ContentLength > r.maxBytes+multipartOverhead {
		return &httpError{
			status:  http.StatusRequestEntityTooLarge,
			message: fmt.Sprintf("upload exceeds %d bytes", r.maxBytes),
		}
	}
	req.Body = http.MaxBytesReader(w, req.Body, r.maxBytes+multipartOverhead)

	file, header, err := req.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return &httpError{status: http.StatusBadRequest, message: "multipart field 'file' is required"}
	}
	defer file.Close()

	if !workspace.SupportedArchiveName(header.Filename) {
		return &httpError{
			status:  http.StatusBadRequest,
			message: "only .zip, .tar.gz, .tgz and .tar.zst uploads are supported",
		}
	}

	data, err := io.ReadAll(io.LimitReader(file, r.maxBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return &httpError{
			status:  http.StatusRequestEntityTooLarge,
			message: fmt.Sprintf("upload exceeds %d bytes", r.maxBytes),
		}
	}

	rep, err := r.analyzer.AnalyzeArchive(req.Context(), data)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, rep)
	return nil
}

// POST /audit/source
// Body: {"source_code": "...", "contract_name": "Token"}
func (r *Router) handleAuditSource(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxBytes)

	var body struct {
		SourceCode   string `json:"source_code"`
		ContractName string `json:"contract_name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return &httpError{status: http.StatusBadRequest, message: "invalid JSON body"}
	}
	if strings.TrimSpace(body.SourceCode) == "" {
		return &httpError{status: http.StatusUnprocessableEntity, message: "source_code is required"}
	}

	rep, err := r.analyzer.AnalyzeSource(req.Context(), sourceFileName(body.ContractName), body.SourceCode)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, rep)
	return nil
}

// sourceFileName turns a contract name into the staged file name
func sourceFileName(contractName string) string {
	name := strings.TrimSpace(contractName)
	if name == "" {
		return ""
	}
	if strings.HasSuffix(name, ".sol") {
		return name
	}
	return name + ".sol"
}

func (r *Router) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, req.WithContext(engine.WithRequestID(req.Context(), id)))
	})
}

func (r *Router) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, req)

		r.logger.Info("http request",
			zap.String("request_id", ww.Header().Get(RequestIDHeader)),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
