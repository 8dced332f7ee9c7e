package domain

// JobOrigin records what put an analysis job on the queue.
type JobOrigin string

const (
	// JobOriginSubmit is the first attempt after a dream is created.
	JobOriginSubmit JobOrigin = "submit"
	// JobOriginManualRetry is an externally triggered retry; it is counted in RawDream.RetryCount.
	JobOriginManualRetry JobOrigin = "manual_retry"
	// JobOriginAutoRetry is an in-job retry after a failed attempt; it is never counted.
	JobOriginAutoRetry JobOrigin = "auto_retry"
)

// Manual reports whether the job was triggered from outside the pipeline.
func (o JobOrigin) Manual() bool {
	return o != JobOriginAutoRetry
}

// AnalysisJob is one queued analysis attempt for a raw dream.
type AnalysisJob struct {
	ID      string
	DreamID string
	UserID  string
	// Attempt is the in-job attempt number, 1-based, independent of RawDream.RetryCount.
	Attempt int
	Origin  JobOrigin
	// Cycle ties the job to the submit or manual retry that started it.
	// Zero means untracked.
	Cycle uint64
}

// ImageJob is one queued image generation attempt for a processed dream.
type ImageJob struct {
	ID          string
	ProcessedID string
	Prompt      string
	UserID      string
}

// ImageResult is the outcome of one image job.
type ImageResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}
