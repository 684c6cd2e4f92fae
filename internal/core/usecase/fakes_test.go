package usecase

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
)

type fakeGenerator struct {
	completeFn func(ctx context.Context, prompt string) (string, error)
	streamFn   func(ctx context.Context, prompt string, emit func(token string) error) (string, error)
	window     int
	prompts    []string
}

func (g *fakeGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.completeFn != nil {
		return g.completeFn(ctx, prompt)
	}
	return "ok", nil
}

func (g *fakeGenerator) Stream(ctx context.Context, prompt string, emit func(token string) error) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.streamFn != nil {
		return g.streamFn(ctx, prompt, emit)
	}
	return "ok", nil
}

func (g *fakeGenerator) ContextWindow(ctx context.Context) (int, error) {
	if g.window > 0 {
		return g.window, nil
	}
	return 0, fmt.Errorf("no window")
}

func (g *fakeGenerator) Warm(ctx context.Context) error { return nil }

type fakeEmbedder struct {
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
	queryFn func(ctx context.Context, text string) ([]float32, error)
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.embedFn != nil {
		return e.embedFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.queryFn != nil {
		return e.queryFn(ctx, text)
	}
	return []float32{1, 0}, nil
}

type fakeDualIndex struct {
	vectorList  []domain.Candidate
	vectorErr   error
	keywordList []domain.Candidate
	keywordOK   bool

	inserted   [][]domain.Chunk
	deletedIDs []string
	refreshed  int
	deleteErr  error
	insertErr  error
}

func (f *fakeDualIndex) Insert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, chunks)
	return nil
}

func (f *fakeDualIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedIDs = append(f.deletedIDs, documentID)
	return nil
}

func (f *fakeDualIndex) RefreshKeyword(ctx context.Context) error {
	f.refreshed++
	return nil
}

func (f *fakeDualIndex) SearchVector(ctx context.Context, queryVector []float32, topK int) ([]domain.Candidate, error) {
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	return f.vectorList, nil
}

func (f *fakeDualIndex) SearchKeyword(query string, topK int) ([]domain.Candidate, bool) {
	return f.keywordList, f.keywordOK
}

type fakeRerankModel struct {
	scoreFn func(ctx context.Context, query string, passages []string) ([]float64, error)
	calls   int
}

func (m *fakeRerankModel) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	m.calls++
	return m.scoreFn(ctx, query, passages)
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	getErr   error
	saveErr  error
	saves    int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *fakeSessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *session
	copied.Messages = append([]domain.Message(nil), session.Messages...)
	return &copied, nil
}

func (s *fakeSessionStore) Save(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	copied := *session
	copied.Messages = append([]domain.Message(nil), session.Messages...)
	s.sessions[session.ID] = &copied
	return nil
}

func (s *fakeSessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// staticCounter charges a fixed cost per message regardless of content.
type staticCounter struct{ perMessage int }

func (c staticCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return c.perMessage
}

type fakeRepo struct {
	mu   sync.Mutex
	docs map[string]*domain.Document

	statusLog []domain.DocumentStatus
	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: make(map[string]*domain.Document)}
}

func (r *fakeRepo) Create(ctx context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	copied := *doc
	r.docs[doc.ID] = &copied
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
	}
	copied := *doc
	return &copied, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update status", fmt.Errorf("id %s", id))
	}
	doc.Status = status
	doc.Error = errMessage
	r.statusLog = append(r.statusLog, status)
	return nil
}

func (r *fakeRepo) SetChunkCount(ctx context.Context, id string, chunkCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "set chunk count", fmt.Errorf("id %s", id))
	}
	doc.ChunkCount = chunkCount
	return nil
}

func (r *fakeRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Document
	for _, doc := range r.docs {
		if doc.BatchID == batchID {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

type fakeObjectStorage struct {
	mu      sync.Mutex
	files   map[string][]byte
	saveErr error
	removed []string
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{files: make(map[string][]byte)}
}

func (s *fakeObjectStorage) Save(ctx context.Context, key string, data io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.files[key] = raw
	return nil
}

func (s *fakeObjectStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.files[key]
	if !ok {
		return nil, fmt.Errorf("open %s: not found", key)
	}
	return io.NopCloser(newByteReader(raw)), nil
}

func (s *fakeObjectStorage) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, key)
	delete(s.files, key)
	return nil
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

type fakeQueue struct {
	mu         sync.Mutex
	published  []domain.IngestJob
	publishErr error
}

func (q *fakeQueue) PublishIngestTask(ctx context.Context, job domain.IngestJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, job)
	return nil
}

func (q *fakeQueue) SubscribeIngestTasks(ctx context.Context, handler func(context.Context, domain.IngestJob) error) error {
	return nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (e *fakeExtractor) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	return e.text, e.err
}

type fakeChunker struct {
	chunks []domain.Chunk
}

func (c *fakeChunker) Split(documentID, text string, metadata map[string]any) []domain.Chunk {
	return c.chunks
}

var (
	_ ports.Generator          = (*fakeGenerator)(nil)
	_ ports.Embedder           = (*fakeEmbedder)(nil)
	_ ports.DualIndex          = (*fakeDualIndex)(nil)
	_ ports.RerankerModel      = (*fakeRerankModel)(nil)
	_ ports.SessionStore       = (*fakeSessionStore)(nil)
	_ ports.TokenCounter       = staticCounter{}
	_ ports.DocumentRepository = (*fakeRepo)(nil)
	_ ports.ObjectStorage      = (*fakeObjectStorage)(nil)
	_ ports.MessageQueue       = (*fakeQueue)(nil)
	_ ports.TextExtractor      = (*fakeExtractor)(nil)
	_ ports.Chunker            = (*fakeChunker)(nil)
)
