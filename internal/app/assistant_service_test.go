package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chandra1295/multi-modal-rag/internal/ai"
	"github.com/Chandra1295/multi-modal-rag/internal/extractor"
	"github.com/Chandra1295/multi-modal-rag/internal/metrics"
	"github.com/Chandra1295/multi-modal-rag/internal/model"
	"github.com/Chandra1295/multi-modal-rag/internal/vectorindex"
)

// mapEmbedder returns pinned vectors for known texts and a fixed fallback
// for everything else, so retrieval ordering in tests is deterministic.
type mapEmbedder struct {
	vectors map[string][]float32
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := m.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func (m *mapEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, _ := m.Embed(ctx, text)
		out[i] = vec
	}
	return out, nil
}

type stubPublisher struct {
	err       error
	published chan model.ChatRecord
}

func newStubPublisher() *stubPublisher {
	return &stubPublisher{published: make(chan model.ChatRecord, 4)}
}

func (p *stubPublisher) Publish(_ context.Context, record model.ChatRecord) error {
	if p.err != nil {
		return p.err
	}
	p.published <- record
	return nil
}

type stubHistoryCache struct {
	records []model.ChatRecord
	hit     bool
	dirty   bool
	deleted bool
}

func (c *stubHistoryCache) GetHistory(context.Context, string) ([]model.ChatRecord, bool, error) {
	return c.records, c.hit, nil
}

func (c *stubHistoryCache) SetHistory(_ context.Context, _ string, records []model.ChatRecord) error {
	c.records = records
	c.hit = true
	return nil
}

func (c *stubHistoryCache) DeleteHistory(context.Context, string) error {
	c.records = nil
	c.hit = false
	c.deleted = true
	return nil
}

func (c *stubHistoryCache) MarkDirty(context.Context, string) error {
	c.dirty = true
	return nil
}

func (c *stubHistoryCache) IsDirty(context.Context, string) (bool, error) {
	return c.dirty, nil
}

type fixture struct {
	svc       *AssistantService
	embed     *mapEmbedder
	llm       *fakeLLM
	publisher *stubPublisher
	cache     *stubHistoryCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	embed := &mapEmbedder{vectors: map[string][]float32{}}
	idx, err := vectorindex.New(context.Background(), embed)
	require.NoError(t, err)

	llm := &fakeLLM{answer: "the answer"}
	publisher := newStubPublisher()
	cache := &stubHistoryCache{}
	svc := NewAssistantService(
		"user-1",
		idx,
		extractor.New(),
		NewAnswerGenerator(llm, ai.ChatConfig{Temperature: 0.7}, 3000, time.Second),
		nil,
		publisher,
		cache,
		metrics.NewMonitor(),
		t.TempDir(),
		SessionConfig{ResultCount: 2, SearchStrategy: vectorindex.StrategySimilarity, Temperature: 0.7},
	)
	return &fixture{svc: svc, embed: embed, llm: llm, publisher: publisher, cache: cache}
}

// indexDocument puts chunks and a memory entry into the session, the state
// Ask expects after an upload and one answered question.
func (f *fixture) indexDocument(t *testing.T, chunks []string, memory []string) {
	t.Helper()
	ctx := context.Background()

	idx, err := f.svc.index.AddChunks(ctx, chunks)
	require.NoError(t, err)
	for _, m := range memory {
		idx, err = idx.AddDocuments(ctx, []vectorindex.Document{{
			Content:  m,
			Metadata: map[string]string{vectorindex.MetaSource: vectorindex.SourceMemory},
		}})
		require.NoError(t, err)
	}
	retriever, err := idx.Retriever(vectorindex.StrategySimilarity, 2, 0)
	require.NoError(t, err)

	f.svc.mu.Lock()
	f.svc.index = idx
	f.svc.retriever = retriever
	f.svc.retrieverCfg = f.svc.defaults
	f.svc.mu.Unlock()
}

func floatPtr(v float64) *float64 {
	return &v
}

func (f *fixture) indexSize() int {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	return f.svc.index.Size()
}

func TestAskBeforeUpload(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), AskInput{Question: "anything?"})
	assert.ErrorIs(t, err, ErrNoDocument)
}

func TestAskEmptyQuestion(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), AskInput{Question: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAskMemoryContextPrecedesDocument(t *testing.T) {
	f := newFixture(t)
	f.embed.vectors = map[string][]float32{
		"how long is the warranty?":       {1, 0, 0},
		"the warranty lasts two years":    {1, 0, 0},
		"returns are accepted for a week": {0.9, 0.1, 0},
		"Q: hello\nA: hi there":           {0, 1, 0},
	}
	f.indexDocument(t,
		[]string{"the warranty lasts two years", "returns are accepted for a week"},
		[]string{"Q: hello\nA: hi there"})

	res, err := f.svc.Ask(context.Background(), AskInput{Question: "how long is the warranty?"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", res.Answer)

	require.Len(t, f.llm.lastMessages, 2)
	prompt := f.llm.lastMessages[1].Content
	memPos := strings.Index(prompt, "Q: hello")
	docPos := strings.Index(prompt, "the warranty lasts two years")
	require.GreaterOrEqual(t, memPos, 0)
	require.GreaterOrEqual(t, docPos, 0)
	assert.Less(t, memPos, docPos)

	// The returned context mirrors the same ordering.
	require.Len(t, res.Context, 3)
	assert.Equal(t, "Q: hello\nA: hi there", res.Context[0])
	assert.Equal(t, "the warranty lasts two years", res.Context[1])
	assert.Equal(t, "returns are accepted for a week", res.Context[2])
}

func TestAskPersistsAndEmbedsMemory(t *testing.T) {
	f := newFixture(t)
	f.indexDocument(t, []string{"chunk one", "chunk two"}, nil)
	sizeBefore := f.indexSize()

	_, err := f.svc.Ask(context.Background(), AskInput{Question: "a question"})
	require.NoError(t, err)

	select {
	case record := <-f.publisher.published:
		assert.Equal(t, "user-1", record.UserID)
		assert.Equal(t, "a question", record.Question)
		assert.Equal(t, "the answer", record.Answer)
		assert.Equal(t, "N/A", record.SourceFile)
		assert.False(t, record.CreatedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no chat record was published")
	}

	assert.Eventually(t, func() bool {
		return f.indexSize() == sizeBefore+1
	}, 2*time.Second, 10*time.Millisecond, "question and answer were not embedded as memory")
	assert.True(t, f.cache.dirty)
}

func TestAskInvalidatesCachedHistory(t *testing.T) {
	f := newFixture(t)
	f.indexDocument(t, []string{"chunk one", "chunk two"}, nil)
	f.cache.records = []model.ChatRecord{{UserID: "user-1", Question: "old", Answer: "stale"}}
	f.cache.hit = true

	_, err := f.svc.Ask(context.Background(), AskInput{Question: "fresh question"})
	require.NoError(t, err)

	select {
	case <-f.publisher.published:
	case <-time.After(2 * time.Second):
		t.Fatal("no chat record was published")
	}

	// The stale cached history must be gone, not just marked dirty: the dirty
	// marker expires before the cache entry does.
	assert.True(t, f.cache.deleted)
	assert.False(t, f.cache.hit)
	assert.True(t, f.cache.dirty)
}

func TestAskDefaultsOverrideUploadBoundRetriever(t *testing.T) {
	f := newFixture(t)
	f.embed.vectors = map[string][]float32{
		"query":     {1, 0, 0},
		"alpha doc": {1, 0, 0},
		"beta doc":  {0.9, 0.1, 0},
	}
	f.indexDocument(t, []string{"alpha doc", "beta doc"}, nil)

	// Rebind as an upload with result_count=1 would.
	f.svc.mu.Lock()
	bound, err := f.svc.index.Retriever(vectorindex.StrategySimilarity, 1, 0)
	require.NoError(t, err)
	f.svc.retriever = bound
	f.svc.retrieverCfg = SessionConfig{ResultCount: 1, SearchStrategy: vectorindex.StrategySimilarity}
	f.svc.mu.Unlock()

	// A default-shaped question must not inherit the upload's narrower k.
	res, err := f.svc.Ask(context.Background(), AskInput{Question: "query"})
	require.NoError(t, err)
	assert.Len(t, res.Context, 2)
}

func TestAskPublisherFailureDoesNotFailAnswer(t *testing.T) {
	f := newFixture(t)
	f.indexDocument(t, []string{"some chunk"}, nil)
	f.publisher.err = errors.New("broker down")

	res, err := f.svc.Ask(context.Background(), AskInput{Question: "still works?"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", res.Answer)
}

func TestAskGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.indexDocument(t, []string{"some chunk"}, nil)
	f.llm.err = errors.New("model offline")
	f.llm.answer = ""

	_, err := f.svc.Ask(context.Background(), AskInput{Question: "broken?"})
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestAskTemperatureOverride(t *testing.T) {
	f := newFixture(t)
	f.indexDocument(t, []string{"some chunk"}, nil)

	_, err := f.svc.Ask(context.Background(), AskInput{Question: "q", Temperature: floatPtr(0.3)})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, f.llm.lastCfg.Temperature, 1e-9)

	// Zero is a deliberate override, distinct from an absent field.
	_, err = f.svc.Ask(context.Background(), AskInput{Question: "q", Temperature: floatPtr(0)})
	require.NoError(t, err)
	assert.InDelta(t, 0, f.llm.lastCfg.Temperature, 1e-9)
}

func TestAskOmittedTemperatureUsesDefault(t *testing.T) {
	f := newFixture(t)
	f.indexDocument(t, []string{"some chunk"}, nil)

	_, err := f.svc.Ask(context.Background(), AskInput{Question: "q"})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, f.llm.lastCfg.Temperature, 1e-9)
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UploadDocument(context.Background(), UploadInput{
		FileName: "notes.txt",
		Size:     10,
		Content:  strings.NewReader("plain text"),
	})
	assert.ErrorIs(t, err, extractor.ErrValidation)
}

func TestUploadEmptyPDFReportsNoContent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UploadDocument(context.Background(), UploadInput{
		FileName: "empty.pdf",
		Size:     0,
		Content:  strings.NewReader(""),
	})
	assert.ErrorIs(t, err, ErrNoContent)

	entries, err := os.ReadDir(f.svc.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should be removed on failure")
}

func TestUploadCorruptPDFKeepsSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UploadDocument(context.Background(), UploadInput{
		FileName: "broken.pdf",
		Size:     17,
		Content:  strings.NewReader("this is not a pdf"),
	})
	assert.ErrorIs(t, err, extractor.ErrExtraction)

	// The failed upload must not leave a half-indexed session behind.
	_, err = f.svc.Ask(context.Background(), AskInput{Question: "anything?"})
	assert.ErrorIs(t, err, ErrNoDocument)

	entries, err := os.ReadDir(f.svc.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHistoryServedFromCache(t *testing.T) {
	f := newFixture(t)
	f.cache.records = []model.ChatRecord{
		{UserID: "user-1", Question: "q1", Answer: "a1"},
		{UserID: "user-1", Question: "q2", Answer: "a2"},
	}
	f.cache.hit = true

	records, err := f.svc.History(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "q1", records[0].Question)
}

func TestResolveConfig(t *testing.T) {
	f := newFixture(t)

	cfg := f.svc.resolveConfig(0, "", -1)
	assert.Equal(t, 2, cfg.ResultCount)
	assert.Equal(t, vectorindex.StrategySimilarity, cfg.SearchStrategy)
	assert.InDelta(t, 0.7, cfg.Temperature, 1e-9)

	cfg = f.svc.resolveConfig(3, vectorindex.StrategyMMR, 0.4)
	assert.Equal(t, 3, cfg.ResultCount)
	assert.Equal(t, vectorindex.StrategyMMR, cfg.SearchStrategy)
	assert.InDelta(t, 0.4, cfg.Temperature, 1e-9)

	// Out-of-range values fall back to the defaults.
	cfg = f.svc.resolveConfig(6, "", 1.5)
	assert.Equal(t, 2, cfg.ResultCount)
	assert.InDelta(t, 0.7, cfg.Temperature, 1e-9)
}

func TestTrimRecords(t *testing.T) {
	records := []model.ChatRecord{{Question: "a"}, {Question: "b"}, {Question: "c"}}
	assert.Len(t, trimRecords(records, 2), 2)
	assert.Len(t, trimRecords(records, 0), 3)
	assert.Len(t, trimRecords(records, 10), 3)
}
