package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/logger"
	"github.com/timmy/dreamforge/internal/metrics"
	"github.com/timmy/dreamforge/internal/notify"
	"github.com/timmy/dreamforge/internal/queue"
)

const (
	pipelineAnalysis = "analysis"

	defaultMaxAttempts     = 3
	defaultRetryDelay      = 10 * time.Second
	defaultAnalysisTimeout = 90 * time.Second
	indexTimeout           = 30 * time.Second
)

// ImageScheduler accepts image jobs from the analysis pipeline.
type ImageScheduler interface {
	Enqueue(ctx context.Context, processedID, prompt, userID string) error
}

// AnalysisPipelineConfig holds the retry policy of the analysis pipeline.
type AnalysisPipelineConfig struct {
	// MaxAttempts bounds provider calls per submit or manual retry.
	MaxAttempts int
	// RetryDelay is the fixed wait before an automatic retry.
	RetryDelay time.Duration
	// Timeout bounds one provider call.
	Timeout time.Duration
}

// AnalysisPipelineDeps are the collaborators of the analysis pipeline.
// Indexer and Metrics are optional.
type AnalysisPipelineDeps struct {
	Dreams      DreamStore
	Interpreter Interpreter
	Images      ImageScheduler
	Indexer     DreamIndexer
	Notifier    notify.Notifier
	Queue       *queue.Queue
	Metrics     *metrics.PipelineMetrics
}

// AnalysisPipeline runs dream analysis jobs on a single-worker queue.
//
// Two counters are kept apart: RawDream.RetryCount counts accepted manual
// retries and is bounded by domain.MaxManualRetries, while AnalysisJob.Attempt
// counts provider calls within one submit or retry and is bounded by
// MaxAttempts. Automatic retries never touch RetryCount.
//
// Each submit or manual retry opens a cycle. At most one cycle is live per
// dream; jobs from an older cycle are dropped when they reach a worker.
type AnalysisPipeline struct {
	dreams      DreamStore
	interpreter Interpreter
	images      ImageScheduler
	indexer     DreamIndexer
	notifier    notify.Notifier
	queue       *queue.Queue
	metrics     *metrics.PipelineMetrics
	log         *logger.Logger
	cfg         AnalysisPipelineConfig
	now         func() time.Time

	mu        sync.Mutex
	cycles    map[string]uint64
	lastCycle uint64
}

// NewAnalysisPipeline creates the pipeline. The queue may be started before
// or after; jobs enqueued earlier are buffered.
func NewAnalysisPipeline(deps AnalysisPipelineDeps, log *logger.Logger, cfg *AnalysisPipelineConfig) *AnalysisPipeline {
	c := AnalysisPipelineConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultAnalysisTimeout
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &AnalysisPipeline{
		dreams:      deps.Dreams,
		interpreter: deps.Interpreter,
		images:      deps.Images,
		indexer:     deps.Indexer,
		notifier:    notifier,
		queue:       deps.Queue,
		metrics:     deps.Metrics,
		log:         log.WithField(logger.FieldPipeline, pipelineAnalysis),
		cfg:         c,
		now:         time.Now,
		cycles:      make(map[string]uint64),
	}
}

// Submit enqueues the first attempt for a dream. Ownership is checked by
// the caller. The work happens asynchronously. It returns
// domain.ErrAnalysisInProgress when the dream already has a live cycle in
// this process, queued, running or waiting for an automatic retry.
func (p *AnalysisPipeline) Submit(ctx context.Context, dreamID, userID string) error {
	if dreamID == "" {
		return fmt.Errorf("dream id is required")
	}
	job, ok := p.beginCycle(dreamID, userID, domain.JobOriginSubmit)
	if !ok {
		return domain.ErrAnalysisInProgress
	}
	if err := p.enqueue(ctx, job); err != nil {
		p.endCycle(job)
		return err
	}
	return nil
}

// Retry counts one manual retry and enqueues a fresh attempt cycle that
// supersedes any live one, so pending automatic retries of the old cycle
// are dropped. When the dream already used all manual retries it returns
// domain.ErrRetryLimitExceeded and enqueues nothing.
func (p *AnalysisPipeline) Retry(ctx context.Context, dreamID, userID string) error {
	if err := p.dreams.IncrementRetry(ctx, dreamID); err != nil {
		if errors.Is(err, domain.ErrRetryLimitExceeded) {
			p.metrics.IncRetry(pipelineAnalysis, "rejected")
		}
		return err
	}
	p.metrics.IncRetry(pipelineAnalysis, "manual")

	p.notifier.Emit(ctx, userID, domain.EventDreamUpdated, domain.DreamUpdate{
		ID:             dreamID,
		AnalysisStatus: domain.AnalysisStatusPending,
	})
	job, _ := p.beginCycle(dreamID, userID, domain.JobOriginManualRetry)
	if err := p.enqueue(ctx, job); err != nil {
		p.endCycle(job)
		return err
	}
	return nil
}

// beginCycle opens a new cycle for the dream. A submit does not replace a
// live cycle; a manual retry does.
func (p *AnalysisPipeline) beginCycle(dreamID, userID string, origin domain.JobOrigin) (domain.AnalysisJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, live := p.cycles[dreamID]; live && origin == domain.JobOriginSubmit {
		return domain.AnalysisJob{}, false
	}
	p.lastCycle++
	p.cycles[dreamID] = p.lastCycle
	return domain.AnalysisJob{
		ID:      uuid.New().String(),
		DreamID: dreamID,
		UserID:  userID,
		Attempt: 1,
		Origin:  origin,
		Cycle:   p.lastCycle,
	}, true
}

// endCycle closes the job's cycle unless a newer one replaced it.
func (p *AnalysisPipeline) endCycle(job domain.AnalysisJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job.Cycle != 0 && p.cycles[job.DreamID] == job.Cycle {
		delete(p.cycles, job.DreamID)
	}
}

// current reports whether job belongs to the dream's live cycle. Jobs built
// outside Submit and Retry carry no cycle and are always current.
func (p *AnalysisPipeline) current(job domain.AnalysisJob) bool {
	if job.Cycle == 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles[job.DreamID] == job.Cycle
}

func (p *AnalysisPipeline) enqueue(ctx context.Context, job domain.AnalysisJob) error {
	if err := p.queue.Enqueue(p.task(job)); err != nil {
		return fmt.Errorf("failed to enqueue analysis job: %w", err)
	}
	logger.CtxDebug(ctx, "Enqueued analysis job %s for dream %s (%s)", job.ID, job.DreamID, job.Origin)
	return nil
}

func (p *AnalysisPipeline) task(job domain.AnalysisJob) queue.Task {
	return func(ctx context.Context) {
		p.Process(ctx, job)
	}
}

// Process runs one attempt of job. It is exported for callers that drive
// attempts synchronously; queued jobs reach it through the worker.
func (p *AnalysisPipeline) Process(ctx context.Context, job domain.AnalysisJob) {
	ctx = logger.SetJobID(ctx, job.ID)
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldDreamID: job.DreamID,
		logger.FieldAttempt: job.Attempt,
	})
	log := p.log.WithFields(logger.Fields{
		logger.FieldJobID:   job.ID,
		logger.FieldDreamID: job.DreamID,
		logger.FieldAttempt: job.Attempt,
	})
	start := p.now()

	if !p.current(job) {
		log.WithField("origin", job.Origin).Info("Analysis cycle was superseded, dropping job")
		p.metrics.ObserveAttempt(pipelineAnalysis, metrics.OutcomeDropped, p.now().Sub(start))
		return
	}

	dream, err := p.dreams.FindByID(ctx, job.DreamID)
	if errors.Is(err, domain.ErrDreamNotFound) {
		log.Warn("Dream no longer exists, dropping job")
		p.metrics.ObserveAttempt(pipelineAnalysis, metrics.OutcomeDropped, p.now().Sub(start))
		p.endCycle(job)
		return
	}
	if err != nil {
		p.retryLater(log, job, err, start)
		return
	}
	if job.Origin == domain.JobOriginAutoRetry && dream.AnalysisStatus == domain.AnalysisStatusCompleted {
		log.Info("Dream already completed, dropping automatic retry")
		p.metrics.ObserveAttempt(pipelineAnalysis, metrics.OutcomeDropped, p.now().Sub(start))
		p.endCycle(job)
		return
	}
	if dream.UserID != "" {
		job.UserID = dream.UserID
	}

	if err := p.dreams.MarkProcessing(ctx, job.DreamID, p.now()); err != nil {
		p.retryLater(log, job, err, start)
		return
	}
	p.notifier.Emit(ctx, job.UserID, domain.EventDreamUpdated, domain.DreamUpdate{
		ID:                 job.DreamID,
		AnalysisStatus:     domain.AnalysisStatusProcessing,
		AnalysisIsRetrying: true,
	})

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	analysis, err := p.interpreter.Interpret(callCtx, dream)
	cancel()
	if err != nil {
		p.fail(ctx, log, job, err, start)
		return
	}

	processed, err := p.dreams.CompleteAnalysis(ctx, dream, analysis, p.interpreter.Version(), p.now())
	if err != nil {
		p.fail(ctx, log, job, err, start)
		return
	}
	p.endCycle(job)

	elapsed := p.now().Sub(start)
	p.metrics.ObserveAttempt(pipelineAnalysis, metrics.OutcomeSuccess, elapsed)
	log.WithFields(logger.Fields{
		logger.FieldProcessedID: processed.ID,
		logger.FieldDurationMs:  elapsed.Milliseconds(),
	}).Info("Dream analysis completed")

	p.notifier.Emit(ctx, job.UserID, domain.EventDreamUpdated, domain.DreamUpdate{
		ID:             job.DreamID,
		AnalysisStatus: domain.AnalysisStatusCompleted,
		Analysis:       processed,
	})

	if processed.HasImagePrompt() && p.images != nil {
		if err := p.images.Enqueue(ctx, processed.ID, processed.ImagePrompt, job.UserID); err != nil {
			log.WithError(err).Error("Failed to enqueue image job")
		}
	}

	if p.indexer != nil {
		indexCtx, cancel := context.WithTimeout(ctx, indexTimeout)
		if err := p.indexer.Index(indexCtx, processed); err != nil {
			log.WithError(err).Warn("Failed to index interpretation")
		}
		cancel()
	}
}

// retryLater handles a database error before the provider was called. No
// attempt is appended and the dream keeps its state, but the attempt number
// is used up so a persistent outage still ends the cycle.
func (p *AnalysisPipeline) retryLater(log *logger.Logger, job domain.AnalysisJob, cause error, start time.Time) {
	p.metrics.ObserveAttempt(pipelineAnalysis, metrics.OutcomeFailure, p.now().Sub(start))

	if job.Attempt >= p.cfg.MaxAttempts {
		log.WithError(cause).Error("Could not start analysis, leaving dream for recovery")
		p.endCycle(job)
		return
	}
	if err := p.scheduleNext(job); err != nil {
		log.WithError(err).Error("Failed to reschedule analysis")
		p.endCycle(job)
		return
	}
	log.WithError(cause).Warn("Could not start analysis, rescheduled")
}

func (p *AnalysisPipeline) scheduleNext(job domain.AnalysisJob) error {
	next := job
	next.Attempt++
	next.Origin = domain.JobOriginAutoRetry
	return p.queue.EnqueueAfter(p.cfg.RetryDelay, p.task(next))
}

// fail records a failed attempt and schedules the next one while attempts
// remain and the job's cycle is still live. Persistence errors here are
// logged and swallowed.
func (p *AnalysisPipeline) fail(ctx context.Context, log *logger.Logger, job domain.AnalysisJob, cause error, start time.Time) {
	msg := failureMessage(cause)
	retrying := job.Attempt < p.cfg.MaxAttempts && p.current(job)

	p.metrics.ObserveAttempt(pipelineAnalysis, metrics.OutcomeFailure, p.now().Sub(start))
	log.WithError(cause).WithField("will_retry", retrying).Warn("Dream analysis attempt failed")

	if err := p.dreams.RecordFailure(ctx, job.DreamID, msg, retrying, p.now()); err != nil {
		if errors.Is(err, domain.ErrDreamNotFound) {
			log.Warn("Dream removed during analysis, dropping job")
			p.endCycle(job)
			return
		}
		log.WithError(err).Error("Failed to persist analysis failure")
	}

	if retrying {
		if err := p.scheduleNext(job); err != nil {
			log.WithError(err).Error("Failed to schedule analysis retry")
			retrying = false
			if err := p.dreams.StopRetrying(ctx, job.DreamID); err != nil {
				log.WithError(err).Error("Failed to clear retrying flag")
			}
		} else {
			p.metrics.IncRetry(pipelineAnalysis, "auto")
		}
	}
	if !retrying {
		p.endCycle(job)
	}

	p.notifier.Emit(ctx, job.UserID, domain.EventDreamUpdated, domain.DreamUpdate{
		ID:                 job.DreamID,
		AnalysisStatus:     domain.AnalysisStatusFailed,
		AnalysisIsRetrying: retrying,
	})
}

// failureMessage is the text stored in the attempt log.
func failureMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "provider call timed out"
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}
