package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Chandra1295/multi-modal-rag/internal/extractor"
	"github.com/Chandra1295/multi-modal-rag/internal/metrics"
	"github.com/Chandra1295/multi-modal-rag/internal/model"
	"github.com/Chandra1295/multi-modal-rag/internal/repository"
	"github.com/Chandra1295/multi-modal-rag/internal/vectorindex"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoDocument means a question arrived before anything was indexed.
	ErrNoDocument = errors.New("no document indexed yet")
	// ErrNoContent means extraction succeeded but found no text.
	ErrNoContent = errors.New("no extractable content found")
)

// memoryLookupK bounds the chat-memory lookup that runs alongside every
// document retrieval.
const memoryLookupK = 2

// RecordPublisher enqueues chat records for asynchronous persistence.
type RecordPublisher interface {
	Publish(ctx context.Context, record model.ChatRecord) error
}

// HistoryCache fronts the relational history store.
type HistoryCache interface {
	GetHistory(ctx context.Context, userID string) ([]model.ChatRecord, bool, error)
	SetHistory(ctx context.Context, userID string, records []model.ChatRecord) error
	DeleteHistory(ctx context.Context, userID string) error
	MarkDirty(ctx context.Context, userID string) error
	IsDirty(ctx context.Context, userID string) (bool, error)
}

// SessionConfig carries the UI-tunable retrieval and generation knobs.
type SessionConfig struct {
	ResultCount    int
	SearchStrategy string
	ScoreThreshold float64
	Temperature    float64
}

// AssistantService is the per-deployment session orchestrator: it owns the
// active vector index and retriever and drives upload → extract → index and
// question → retrieve → generate → persist → re-embed.
type AssistantService struct {
	mu           sync.Mutex
	index        *vectorindex.Index
	retriever    *vectorindex.Retriever
	retrieverCfg SessionConfig
	sourceFile   string

	userID       string
	extr         *extractor.Extractor
	generator    *AnswerGenerator
	recordRepo   *repository.ChatRecordRepository
	publisher    RecordPublisher
	historyCache HistoryCache
	monitor      *metrics.Monitor
	tempDir      string
	defaults     SessionConfig
}

func NewAssistantService(
	userID string,
	index *vectorindex.Index,
	extr *extractor.Extractor,
	generator *AnswerGenerator,
	recordRepo *repository.ChatRecordRepository,
	publisher RecordPublisher,
	historyCache HistoryCache,
	monitor *metrics.Monitor,
	tempDir string,
	defaults SessionConfig,
) *AssistantService {
	if defaults.ResultCount < 1 {
		defaults.ResultCount = 2
	}
	if defaults.SearchStrategy == "" {
		defaults.SearchStrategy = vectorindex.StrategySimilarity
	}
	return &AssistantService{
		index:        index,
		userID:       userID,
		extr:         extr,
		generator:    generator,
		recordRepo:   recordRepo,
		publisher:    publisher,
		historyCache: historyCache,
		monitor:      monitor,
		tempDir:      tempDir,
		defaults:     defaults,
	}
}

func (s *AssistantService) UserID() string {
	return s.userID
}

type UploadInput struct {
	FileName string
	Size     int64
	Content  io.Reader

	// Retrieval overrides; zero values fall back to the session defaults.
	ResultCount    int
	SearchStrategy string
}

type UploadResult struct {
	FileName   string `json:"file_name"`
	ChunkCount int    `json:"chunk_count"`
}

// UploadDocument validates and spools the upload, extracts and indexes its
// text, and rebinds the retriever. On any failure the session keeps its
// previous index and retriever. The temp file is removed on all paths.
func (s *AssistantService) UploadDocument(ctx context.Context, input UploadInput) (*UploadResult, error) {
	start := time.Now()

	if err := extractor.Validate(input.FileName, input.Size); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir failed: %w", err)
	}
	tempPath := filepath.Join(s.tempDir,
		fmt.Sprintf("%d_%s", time.Now().UnixNano(), filepath.Base(input.FileName)))

	written, err := spoolToFile(tempPath, input.Content)
	if err != nil {
		return nil, fmt.Errorf("spool upload failed: %w", err)
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil {
			log.Printf("remove temp file %s failed: %v", tempPath, err)
			return
		}
		s.monitor.LogCleanup(written)
	}()

	chunks, err := s.extr.Extract(tempPath)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNoContent
	}

	cfg := s.resolveConfig(input.ResultCount, input.SearchStrategy, -1)

	s.mu.Lock()
	defer s.mu.Unlock()

	newIndex, err := s.index.AddChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("index document failed: %w", err)
	}
	retriever, err := newIndex.Retriever(cfg.SearchStrategy, cfg.ResultCount, cfg.ScoreThreshold)
	if err != nil {
		return nil, err
	}

	// Adopt the possibly-new handle only once every step has succeeded.
	s.index = newIndex
	s.retriever = retriever
	s.retrieverCfg = cfg
	s.sourceFile = input.FileName

	s.monitor.LogProcessed(input.FileName, input.Size, time.Since(start))
	return &UploadResult{FileName: input.FileName, ChunkCount: len(chunks)}, nil
}

type AskInput struct {
	Question string

	// Per-question overrides; zero values fall back to the session defaults.
	// Temperature is a pointer because 0.0 is a meaningful override.
	ResultCount    int
	SearchStrategy string
	Temperature    *float64
}

type AskResult struct {
	Answer  string   `json:"answer"`
	Context []string `json:"context"`
}

// Ask answers a question against the indexed document and chat memory.
// Memory-derived context always precedes document-derived context, biasing
// the model toward conversational continuity. Persistence and memory
// embedding run after the answer is produced and never fail it.
func (s *AssistantService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	index := s.index
	retriever := s.retriever
	retrieverCfg := s.retrieverCfg
	sourceFile := s.sourceFile
	s.mu.Unlock()

	if retriever == nil {
		return nil, ErrNoDocument
	}

	temperature := -1.0
	if input.Temperature != nil {
		temperature = *input.Temperature
	}
	cfg := s.resolveConfig(input.ResultCount, input.SearchStrategy, temperature)

	// Rebuild when the request differs from what the bound retriever was
	// built with; the binding may itself carry per-upload overrides.
	if cfg.ResultCount != retrieverCfg.ResultCount ||
		cfg.SearchStrategy != retrieverCfg.SearchStrategy ||
		cfg.ScoreThreshold != retrieverCfg.ScoreThreshold {
		override, err := index.Retriever(cfg.SearchStrategy, cfg.ResultCount, cfg.ScoreThreshold)
		if err != nil {
			return nil, err
		}
		retriever = override
	}

	memoryDocs, err := index.SearchMemory(ctx, question, memoryLookupK)
	if err != nil {
		return nil, fmt.Errorf("memory lookup failed: %w", err)
	}
	docChunks, err := retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("document retrieval failed: %w", err)
	}

	// Memory first, then document chunks.
	combined := make([]string, 0, len(memoryDocs)+len(docChunks))
	for _, d := range memoryDocs {
		combined = append(combined, d.Content)
	}
	for _, d := range docChunks {
		combined = append(combined, d.Content)
	}
	contextText := strings.Join(combined, "\n\n")

	answer, err := s.generator.Generate(ctx, question, contextText, cfg.Temperature)
	if err != nil {
		return nil, err
	}

	// The answer is final from here on: persistence and memory embedding are
	// fire-and-forget, logged on failure.
	go s.afterAnswer(question, answer, contextText, sourceFile)

	return &AskResult{Answer: answer, Context: combined}, nil
}

func (s *AssistantService) afterAnswer(question, answer, contextText, sourceFile string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sourceFile == "" {
		sourceFile = "N/A"
	}
	record := model.ChatRecord{
		UserID:     s.userID,
		Question:   question,
		Answer:     answer,
		Context:    contextText,
		SourceFile: sourceFile,
		CreatedAt:  time.Now(),
	}
	if s.historyCache != nil {
		// Mark dirty and evict together: the marker covers the window until
		// the async persist lands, the eviction covers the cache TTL beyond it.
		if err := s.historyCache.MarkDirty(ctx, s.userID); err != nil {
			log.Printf("mark history dirty failed: %v", err)
		}
		if err := s.historyCache.DeleteHistory(ctx, s.userID); err != nil {
			log.Printf("evict cached history failed: %v", err)
		}
	}
	if err := s.publisher.Publish(ctx, record); err != nil {
		log.Printf("enqueue chat record failed: %v", err)
	}

	memoryDoc := vectorindex.Document{
		Content: "Q: " + question + "\nA: " + answer,
		Metadata: map[string]string{
			vectorindex.MetaSource: vectorindex.SourceMemory,
			vectorindex.MetaUserID: s.userID,
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	newIndex, err := s.index.AddDocuments(ctx, []vectorindex.Document{memoryDoc})
	if err != nil {
		log.Printf("embed chat memory failed: %v", err)
		return
	}
	s.index = newIndex
}

// History returns the user's most recent records, newest first, through the
// Redis read-through cache.
func (s *AssistantService) History(ctx context.Context, limit int) ([]model.ChatRecord, error) {
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, s.userID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, s.userID); cacheErr == nil && hit {
				return trimRecords(cached, limit), nil
			}
		}
	}

	records, err := s.recordRepo.ListRecentByUserID(s.userID, limit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, s.userID); dirtyErr == nil && !dirty {
			if err := s.historyCache.SetHistory(ctx, s.userID, records); err != nil {
				log.Printf("cache history failed: %v", err)
			}
		}
	}
	return records, nil
}

func (s *AssistantService) resolveConfig(resultCount int, strategy string, temperature float64) SessionConfig {
	cfg := s.defaults
	if resultCount >= 1 && resultCount <= 5 {
		cfg.ResultCount = resultCount
	}
	if strategy != "" {
		cfg.SearchStrategy = strategy
	}
	if temperature >= 0 && temperature <= 1 {
		cfg.Temperature = temperature
	} else {
		cfg.Temperature = s.defaults.Temperature
	}
	return cfg
}

func trimRecords(records []model.ChatRecord, limit int) []model.ChatRecord {
	if limit <= 0 || limit >= len(records) {
		return records
	}
	return records[:limit]
}

func spoolToFile(path string, content io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(f, content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return written, nil
}
