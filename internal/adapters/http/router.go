package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
	"github.com/kirillkom/docquery/internal/observability/metrics"
)

const maxUploadMemory = 32 << 20 // 32 MiB before multipart spills to disk

// KeywordRefresher triggers a keyword index rebuild on demand.
type KeywordRefresher interface {
	RefreshKeyword(ctx context.Context) error
}

type Config struct {
	Service          string
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
}

type Router struct {
	query     ports.QueryService
	ingestor  ports.DocumentIngestor
	batches   ports.BatchReader
	documents ports.DocumentDeleter
	sessions  ports.SessionClearer
	refresher KeywordRefresher
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
	cfg       Config
}

func NewRouter(
	query ports.QueryService,
	ingestor ports.DocumentIngestor,
	batches ports.BatchReader,
	documents ports.DocumentDeleter,
	sessions ports.SessionClearer,
	refresher KeywordRefresher,
	m *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	cfg Config,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Service == "" {
		cfg.Service = "api"
	}
	if cfg.BackpressureWait <= 0 {
		cfg.BackpressureWait = 100 * time.Millisecond
	}
	return &Router{
		query:     query,
		ingestor:  ingestor,
		batches:   batches,
		documents: documents,
		sessions:  sessions,
		refresher: refresher,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/query", rt.postQuery)
	mux.HandleFunc("POST /v1/documents", rt.uploadDocuments)
	mux.HandleFunc("GET /v1/batches/{batch_id}", rt.getBatch)
	mux.HandleFunc("DELETE /v1/documents/{document_id}", rt.deleteDocument)
	mux.HandleFunc("DELETE /v1/sessions/{session_id}", rt.deleteSession)
	mux.HandleFunc("POST /v1/index/refresh", rt.refreshIndex)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.BackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.Service, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) postQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question  string `json:"question"`
		SessionID string `json:"session_id"`
		Stream    bool   `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	if req.Stream {
		rt.streamQuery(w, r, req.Question, req.SessionID)
		return
	}

	start := time.Now()
	answer, err := rt.query.Answer(r.Context(), req.Question, req.SessionID)
	if err != nil {
		rt.recordQuery("query", "error", 0, start)
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	rt.recordQuery("query", "success", len(answer.Sources), start)

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":     answer.Text,
		"sources":    answer.Sources,
		"session_id": answer.SessionID,
	})
}

func (rt *Router) streamQuery(w http.ResponseWriter, r *http.Request, question, sessionID string) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	start := time.Now()
	answer, err := rt.query.AnswerStream(r.Context(), question, sessionID, sse.emitToken)
	if err != nil {
		rt.recordQuery("query_stream", "error", 0, start)
		if errors.Is(err, context.Canceled) || r.Context().Err() != nil {
			// Client is gone; nothing useful left to write.
			return
		}
		if !sse.started {
			writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
			return
		}
		_ = sse.emitError(err.Error())
		_ = sse.done()
		return
	}
	rt.recordQuery("query_stream", "success", len(answer.Sources), start)

	if err := sse.emitAnswer(answer); err != nil {
		rt.logger.Warn("sse_final_event_failed", "error", err)
		return
	}
	_ = sse.done()
}

func (rt *Router) uploadDocuments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		// Accept the singular field too.
		fileHeaders = r.MultipartForm.File["file"]
	}
	if len(fileHeaders) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'files' is required"})
		return
	}

	metadata, err := parseMetadataField(r.MultipartForm.Value["metadata"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	files := make([]ports.UploadFile, 0, len(fileHeaders))
	opened := make([]multipart.File, 0, len(fileHeaders))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, header := range fileHeaders {
		f, err := header.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read multipart file: " + header.Filename})
			return
		}
		opened = append(opened, f)
		files = append(files, ports.UploadFile{
			Name:     header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Size:     header.Size,
			Metadata: metadata,
			Body:     f,
		})
	}

	batchID, err := rt.ingestor.Upload(r.Context(), files)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

func (rt *Router) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("batch_id")
	if batchID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "batch id is required"})
		return
	}

	tasks, err := rt.batches.GetBatch(r.Context(), batchID)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": batchID,
		"tasks":    toTaskViews(tasks),
	})
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")
	if documentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	if err := rt.documents.Delete(r.Context(), documentID); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id is required"})
		return
	}

	if err := rt.sessions.Clear(r.Context(), sessionID); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) refreshIndex(w http.ResponseWriter, r *http.Request) {
	err := rt.refresher.RefreshKeyword(r.Context())
	if rt.metrics != nil {
		rt.metrics.RecordKeywordRefresh(rt.cfg.Service, err)
	}
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (rt *Router) recordQuery(endpoint, outcome string, sources int, start time.Time) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordQuery(rt.cfg.Service, endpoint, outcome, sources, time.Since(start))
}

func parseMetadataField(values []string) (map[string]any, error) {
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(values[0]), &metadata); err != nil {
		return nil, errors.New("metadata must be a json object")
	}
	return metadata, nil
}

type taskView struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

func toTaskViews(tasks []domain.IngestTask) []taskView {
	out := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskView{
			DocumentID: task.DocumentID,
			FileName:   task.FileName,
			Status:     string(task.Status),
			ChunkCount: task.ChunkCount,
			Error:      task.Error,
			UpdatedAt:  task.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
