package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
)

type fakeQueryService struct {
	answer    *domain.Answer
	err       error
	tokens    []string
	lastInput string
}

func (f *fakeQueryService) Answer(_ context.Context, question, _ string) (*domain.Answer, error) {
	f.lastInput = question
	return f.answer, f.err
}

func (f *fakeQueryService) AnswerStream(_ context.Context, question, _ string, emit func(string) error) (*domain.Answer, error) {
	f.lastInput = question
	if f.err != nil {
		return nil, f.err
	}
	for _, token := range f.tokens {
		if err := emit(token); err != nil {
			return nil, err
		}
	}
	return f.answer, nil
}

type fakeIngestor struct {
	batchID string
	err     error
	files   []ports.UploadFile
}

func (f *fakeIngestor) Upload(_ context.Context, files []ports.UploadFile) (string, error) {
	f.files = files
	return f.batchID, f.err
}

type fakeBatchReader struct {
	tasks []domain.IngestTask
	err   error
}

func (f *fakeBatchReader) GetBatch(_ context.Context, _ string) ([]domain.IngestTask, error) {
	return f.tasks, f.err
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) Delete(_ context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return f.err
}

type fakeSessionClearer struct {
	cleared []string
	err     error
}

func (f *fakeSessionClearer) Clear(_ context.Context, sessionID string) error {
	f.cleared = append(f.cleared, sessionID)
	return f.err
}

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) RefreshKeyword(_ context.Context) error {
	f.calls++
	return f.err
}

type routerFixture struct {
	query     *fakeQueryService
	ingestor  *fakeIngestor
	batches   *fakeBatchReader
	deleter   *fakeDeleter
	sessions  *fakeSessionClearer
	refresher *fakeRefresher
	handler   http.Handler
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{
		query: &fakeQueryService{
			answer: &domain.Answer{Text: "the answer", SessionID: "sess-1"},
		},
		ingestor:  &fakeIngestor{batchID: "batch-1"},
		batches:   &fakeBatchReader{},
		deleter:   &fakeDeleter{},
		sessions:  &fakeSessionClearer{},
		refresher: &fakeRefresher{},
	}
	f.handler = NewRouter(
		f.query, f.ingestor, f.batches, f.deleter, f.sessions, f.refresher,
		nil, nil, Config{},
	).Handler()
	return f
}

func TestPostQueryReturnsAnswer(t *testing.T) {
	f := newRouterFixture()

	body := `{"question":"what is the refund policy?","session_id":"sess-1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["answer"] != "the answer" || resp["session_id"] != "sess-1" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestPostQueryRejectsEmptyQuestion(t *testing.T) {
	f := newRouterFixture()

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"question":"  "}`))
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestPostQueryMapsGenerationErrorTo502(t *testing.T) {
	f := newRouterFixture()
	f.query.err = domain.WrapError(domain.ErrGeneration, "generate answer", fmt.Errorf("model down"))

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"question":"q"}`))
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.Code)
	}
}

func TestPostQueryStreamEmitsSSE(t *testing.T) {
	f := newRouterFixture()
	f.query.tokens = []string{"the ", "answer"}

	body := `{"question":"q","stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}
	out := res.Body.String()
	if !strings.Contains(out, `data: {"token":"the "}`) {
		t.Fatalf("missing token event: %s", out)
	}
	if !strings.Contains(out, `"answer":"the answer"`) {
		t.Fatalf("missing final answer event: %s", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "data: [DONE]") {
		t.Fatalf("missing [DONE] marker: %s", out)
	}
}

func TestUploadDocumentsReturnsBatchID(t *testing.T) {
	f := newRouterFixture()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"a.txt", "b.txt"} {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write([]byte("content of " + name))
	}
	if err := mw.WriteField("metadata", `{"team":"finance"}`); err != nil {
		t.Fatalf("write metadata field: %v", err)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["batch_id"] != "batch-1" {
		t.Fatalf("unexpected batch id: %v", resp)
	}
	if len(f.ingestor.files) != 2 {
		t.Fatalf("expected 2 files passed to ingestor, got %d", len(f.ingestor.files))
	}
	if f.ingestor.files[0].Metadata["team"] != "finance" {
		t.Fatalf("metadata not forwarded: %+v", f.ingestor.files[0].Metadata)
	}
}

func TestUploadDocumentsRejectsMalformedMetadata(t *testing.T) {
	f := newRouterFixture()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("files", "a.txt")
	_, _ = part.Write([]byte("x"))
	_ = mw.WriteField("metadata", `not json`)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetBatchReturnsTasks(t *testing.T) {
	f := newRouterFixture()
	f.batches.tasks = []domain.IngestTask{
		{DocumentID: "doc-1", FileName: "a.txt", Status: domain.TaskCompleted, ChunkCount: 4, UpdatedAt: time.Now()},
		{DocumentID: "doc-2", FileName: "b.txt", Status: domain.TaskError, Error: "parse failed", UpdatedAt: time.Now()},
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/batches/batch-1", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var resp struct {
		BatchID string     `json:"batch_id"`
		Tasks   []taskView `json:"tasks"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.BatchID != "batch-1" || len(resp.Tasks) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Tasks[1].Status != "error" || resp.Tasks[1].Error != "parse failed" {
		t.Fatalf("unexpected task view: %+v", resp.Tasks[1])
	}
}

func TestGetBatchUnknownReturns404(t *testing.T) {
	f := newRouterFixture()
	f.batches.err = domain.WrapError(domain.ErrBatchNotFound, "get batch", fmt.Errorf("batch nope"))

	req := httptest.NewRequest(http.MethodGet, "/v1/batches/nope", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestDeleteDocumentReturns204(t *testing.T) {
	f := newRouterFixture()

	req := httptest.NewRequest(http.MethodDelete, "/v1/documents/doc-1", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(f.deleter.deleted) != 1 || f.deleter.deleted[0] != "doc-1" {
		t.Fatalf("unexpected delete calls: %v", f.deleter.deleted)
	}
}

func TestDeleteSessionReturns204(t *testing.T) {
	f := newRouterFixture()

	req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/sess-9", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(f.sessions.cleared) != 1 || f.sessions.cleared[0] != "sess-9" {
		t.Fatalf("unexpected clear calls: %v", f.sessions.cleared)
	}
}

func TestRefreshIndexInvokesRefresher(t *testing.T) {
	f := newRouterFixture()

	req := httptest.NewRequest(http.MethodPost, "/v1/index/refresh", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if f.refresher.calls != 1 {
		t.Fatalf("expected 1 refresh call, got %d", f.refresher.calls)
	}
}
