package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/queue"
	"github.com/timmy/dreamforge/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the in-memory database alive and serialises writers.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newStartedQueue(t *testing.T, name string, workers int) *queue.Queue {
	t.Helper()
	q := queue.New(name, queue.Options{Workers: workers, Capacity: 64})
	q.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q
}

func drain(t *testing.T, q *queue.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
}

func seedDream(t *testing.T, repo *repository.DreamRepository, userID string) *domain.RawDream {
	t.Helper()
	dream := &domain.RawDream{
		ID:             "dream-" + strings.ReplaceAll(t.Name(), "/", "-"),
		UserID:         userID,
		Title:          "Flooded library",
		Description:    "I was swimming between bookshelves looking for a red book.",
		Date:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Mood:           domain.MoodConfused,
		Intensity:      70,
		Symbols:        domain.StringArray{"water", "books"},
		AnalysisStatus: domain.AnalysisStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), dream))
	return dream
}

func sampleAnalysis(imagePrompt string) *domain.Analysis {
	return &domain.Analysis{
		Sentiment:      domain.Sentiment{Positive: 20, Negative: 30, Neutral: 50},
		Keywords:       []string{"water", "library", "search"},
		Interpretation: "The flooded library points to knowledge you feel is slipping away.",
		ImagePrompt:    imagePrompt,
	}
}

// scriptedInterpreter returns the queued results in order and repeats the
// last one once the script is exhausted.
type scriptedInterpreter struct {
	mu      sync.Mutex
	results []interpretResult
	calls   int
	block   chan struct{}
	entered chan string
}

type interpretResult struct {
	analysis *domain.Analysis
	err      error
}

func (s *scriptedInterpreter) Interpret(ctx context.Context, dream *domain.RawDream) (*domain.Analysis, error) {
	if s.entered != nil {
		s.entered <- dream.ID
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	r := s.results[idx]
	return r.analysis, r.err
}

func (s *scriptedInterpreter) Version() string { return "test-model/dream-v1" }

func (s *scriptedInterpreter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func failing(msg string) interpretResult {
	return interpretResult{err: domain.NewProviderError("analysis", errors.New(msg))}
}

func succeeding(a *domain.Analysis) interpretResult {
	return interpretResult{analysis: a}
}

type recordedEvent struct {
	userID  string
	event   string
	payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Emit(ctx context.Context, userID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{userID: userID, event: event, payload: payload})
}

func (n *recordingNotifier) dreamUpdates() []domain.DreamUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.DreamUpdate
	for _, e := range n.events {
		if u, ok := e.payload.(domain.DreamUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

func (n *recordingNotifier) imageUpdates() []domain.ProcessedDreamUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.ProcessedDreamUpdate
	for _, e := range n.events {
		if u, ok := e.payload.(domain.ProcessedDreamUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

type imageCall struct {
	processedID, prompt, userID string
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []imageCall
}

func (s *recordingScheduler) Enqueue(ctx context.Context, processedID, prompt, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, imageCall{processedID, prompt, userID})
	return nil
}

func (s *recordingScheduler) Calls() []imageCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]imageCall(nil), s.calls...)
}

type fakeGenerator struct {
	data []byte
	err  error
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	return g.data, g.err
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
