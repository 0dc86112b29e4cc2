package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/contract-analyzer/internal/agent"
	"github.com/nidhogg/contract-analyzer/internal/command"
	"github.com/nidhogg/contract-analyzer/internal/extract"
	"github.com/nidhogg/contract-analyzer/internal/gateway"
	"github.com/nidhogg/contract-analyzer/internal/metrics"
	"github.com/nidhogg/contract-analyzer/internal/orchestrator"
)

// Analyzer runs one analysis. *orchestrator.Pipeline satisfies it.
type Analyzer interface {
	Run(ctx context.Context, text string) (*orchestrator.Report, error)
}

// EventSource reads recent pipeline events and follows new ones.
// *orchestrator.RedisBus satisfies it.
type EventSource interface {
	Recent(ctx context.Context, n int64) ([]orchestrator.Event, error)
	Subscribe(ctx context.Context) <-chan orchestrator.Event
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	analyzer  Analyzer
	providers command.ProviderLister
	restGW    *gateway.RESTAdapter
	gw        *gateway.Gateway
	events    EventSource
	metrics   *metrics.Metrics
	maxUpload int64
	logger    *zap.Logger
}

// NewHandler creates a new API handler. events and m may be nil.
func NewHandler(
	analyzer Analyzer,
	providers command.ProviderLister,
	restGW *gateway.RESTAdapter,
	gw *gateway.Gateway,
	events EventSource,
	m *metrics.Metrics,
	maxUpload int64,
	logger *zap.Logger,
) *Handler {
	if maxUpload <= 0 {
		maxUpload = gateway.MaxAttachmentBytes
	}
	return &Handler{
		analyzer:  analyzer,
		providers: providers,
		restGW:    restGW,
		gw:        gw,
		events:    events,
		metrics:   m,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Web UI
	r.Get("/", h.indexPage)
	r.Post("/analyze", h.analyzePage)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/agents", h.listAgents)
		r.Get("/providers", h.listProviders)

		// Analysis routes
		r.Post("/analyses", h.analyzeUpload)
		r.Post("/analyses/text", h.analyzeText)
		r.Get("/events", h.recentEvents)
		r.Get("/events/stream", h.streamEvents)

		// Gateway routes
		if h.restGW != nil {
			r.Mount("/gateway/rest", h.restGW.Routes())
		}
		r.Get("/gateway/status", h.gatewayStatus)
	})

	return r
}

// analysisResponse is returned by the analysis endpoints. Results is the
// downloadable export.
type analysisResponse struct {
	RunID      string       `json:"run_id"`
	FileName   string       `json:"file_name,omitempty"`
	Characters int          `json:"characters"`
	DurationMS int64        `json:"duration_ms"`
	Degraded   int          `json:"degraded"`
	Results    agent.Export `json:"results"`
}

func newAnalysisResponse(fileName, text string, report *orchestrator.Report) analysisResponse {
	return analysisResponse{
		RunID:      report.RunID,
		FileName:   fileName,
		Characters: utf8.RuneCountInString(text),
		DurationMS: report.Duration.Milliseconds(),
		Degraded:   report.Degraded(),
		Results:    report.Export(),
	}
}

// apiError carries an HTTP status along with a user-facing message.
type apiError struct {
	status  int
	message string
	err     error
}

func (e *apiError) Error() string { return e.message }
func (e *apiError) Unwrap() error { return e.err }

const (
	errMsgEmptyDocument = "Could not extract text from document. The file appears to be empty or contains only images."
	errMsgAnalysis      = "Analysis failed. Please try again or contact support."
)

// readUpload pulls the "file" part out of a multipart request.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (name, mimeType string, data []byte, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", "", nil, &apiError{http.StatusRequestEntityTooLarge, "file too large", err}
		}
		return "", "", nil, &apiError{http.StatusBadRequest, "invalid multipart form", err}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", nil, &apiError{http.StatusBadRequest, "file is required", err}
	}
	defer file.Close()

	data, err = io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		return "", "", nil, &apiError{http.StatusBadRequest, "could not read file", err}
	}
	if int64(len(data)) > h.maxUpload {
		return "", "", nil, &apiError{http.StatusRequestEntityTooLarge, "file too large", nil}
	}
	return header.Filename, header.Header.Get("Content-Type"), data, nil
}

// extractText maps extraction failures to HTTP errors.
func extractText(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	text, err := extract.Extract(ctx, data, name, mimeType)
	var unsupported *extract.UnsupportedFormatError
	switch {
	case errors.As(err, &unsupported):
		return "", &apiError{http.StatusUnsupportedMediaType, unsupported.Error(), err}
	case errors.Is(err, extract.ErrEmptyDocument):
		return "", &apiError{http.StatusUnprocessableEntity, errMsgEmptyDocument, err}
	case err != nil:
		return "", &apiError{http.StatusUnprocessableEntity, "could not read document: " + err.Error(), err}
	}
	if strings.TrimSpace(text) == "" {
		return "", &apiError{http.StatusUnprocessableEntity, errMsgEmptyDocument, extract.ErrEmptyDocument}
	}
	return text, nil
}

// analyze runs the pipeline and hides internal failures behind a generic message.
func (h *Handler) analyze(ctx context.Context, text string) (*orchestrator.Report, error) {
	report, err := h.analyzer.Run(ctx, text)
	if err != nil {
		h.logger.Error("analysis failed", zap.Error(err))
		return nil, &apiError{http.StatusInternalServerError, errMsgAnalysis, err}
	}
	return report, nil
}

func writeAPIError(w http.ResponseWriter, err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		writeJSON(w, ae.status, map[string]string{"error": ae.message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": errMsgAnalysis})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "contract-analyzer"})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, agent.Profiles())
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	if h.providers == nil {
		writeJSON(w, http.StatusOK, []command.ProviderInfo{})
		return
	}
	writeJSON(w, http.StatusOK, command.CheckProviders(r.Context(), h.providers))
}

// analyzeUpload handles POST /api/analyses with a multipart "file" part.
func (h *Handler) analyzeUpload(w http.ResponseWriter, r *http.Request) {
	name, mimeType, data, err := h.readUpload(w, r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	text, err := extractText(r.Context(), name, mimeType, data)
	if err != nil {
		h.logger.Info("extraction rejected", zap.String("file", name), zap.Error(err))
		writeAPIError(w, err)
		return
	}
	report, err := h.analyze(r.Context(), text)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAnalysisResponse(name, text, report))
}

// analyzeText handles POST /api/analyses/text with {"text": "..."}.
func (h *Handler) analyzeText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUpload)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	report, err := h.analyze(r.Context(), req.Text)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAnalysisResponse("", req.Text, report))
}

func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus not configured"})
		return
	}
	limit := int64(50)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	events, err := h.events.Recent(ctx, limit)
	if err != nil {
		h.logger.Warn("read events failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": fmt.Sprintf("read events: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// sseKeepAlive is how often an idle event stream gets a comment line.
const sseKeepAlive = 15 * time.Second

// streamEvents follows the event bus as Server-Sent Events until the client
// goes away or the bus stops.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus not configured"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	ctx := r.Context()
	events := h.events.Subscribe(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("encode event failed", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.gw.Statuses())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
