package task

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/events"
	"github.com/phrazzld/resumate-api/internal/generation"
	"github.com/phrazzld/resumate-api/internal/store"
)

// Default match score cache settings.
const (
	DefaultMatchScoreCacheWindow = 5 * time.Minute
	DefaultCachedDelayMin        = 7 * time.Second
	DefaultCachedDelayMax        = 16 * time.Second
)

const releaseUsageCompensation = "release_match_score_usage"

type (
	cvKey          struct{}
	reservationKey struct{}
)

// MatchScorePayload is the input of a match score task.
type MatchScorePayload struct {
	CVID           uuid.UUID `json:"cv_id"`
	JobDescription string    `json:"job_description"`
	// Automatic runs are triggered by the system and do not count against
	// the user's usage.
	Automatic bool `json:"automatic,omitempty"`
}

// Validate checks the payload.
func (p *MatchScorePayload) Validate() error {
	if p.CVID == uuid.Nil {
		return fmt.Errorf("%w: cv_id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.JobDescription) == "" {
		return fmt.Errorf("%w: job_description is required", ErrInvalidPayload)
	}
	return nil
}

// MatchScoreConfig holds configuration for the match score job
type MatchScoreConfig struct {
	// CacheWindow is how long a stored score is reused.
	CacheWindow time.Duration
	// CachedDelayMin and CachedDelayMax bound the random delay applied
	// before a cached score is returned.
	CachedDelayMin time.Duration
	CachedDelayMax time.Duration
}

// MatchScoreResult is stored as the task result.
type MatchScoreResult struct {
	CVID        uuid.UUID `json:"cv_id"`
	Score       int       `json:"score"`
	Analysis    string    `json:"analysis"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Cached      bool      `json:"cached"`
	// UsageCount is the user's match score count after this run. It is only
	// set for runs that consumed usage.
	UsageCount *int `json:"usage_count,omitempty"`
}

type matchScoreParams struct {
	request generation.MatchScoreRequest
	cached  *domain.MatchScore
}

type matchScoreOutput struct {
	score  *domain.MatchScore
	cached bool
}

// MatchScoreJob rates a stored CV against a job description. A score
// computed within the cache window is returned again after a short random
// delay instead of calling the scorer.
type MatchScoreJob struct {
	deps   JobDeps
	cvs    store.CVStore
	usage  UsageCounter
	config MatchScoreConfig
	def    *Definition[MatchScorePayload, matchScoreParams, matchScoreOutput]

	// scoring counts the runs per CV that hold its mirror at calculating.
	mu      sync.Mutex
	scoring map[uuid.UUID]int

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64
}

// NewMatchScoreJob creates the match score job.
func NewMatchScoreJob(deps JobDeps, cvs store.CVStore, usage UsageCounter, config MatchScoreConfig) *MatchScoreJob {
	if config.CacheWindow <= 0 {
		config.CacheWindow = DefaultMatchScoreCacheWindow
	}
	if config.CachedDelayMin < 0 {
		config.CachedDelayMin = 0
	}
	if config.CachedDelayMax < config.CachedDelayMin {
		config.CachedDelayMax = config.CachedDelayMin
	}
	j := &MatchScoreJob{
		deps:   deps,
		cvs:    cvs,
		usage:  usage,
		config:  config,
		scoring: make(map[uuid.UUID]int),
		now:     time.Now,
		sleep:   sleepContext,
		jitter:  rand.Int64N,
	}
	j.def = j.definition()
	return j
}

// Type implements Scheduler.
func (j *MatchScoreJob) Type() string {
	return domain.TaskTypeMatchScore
}

// ScheduleRequest implements Scheduler.
func (j *MatchScoreJob) ScheduleRequest(ctx context.Context, event *events.TaskRequestEvent) error {
	meta, payload, err := decodeEvent[MatchScorePayload](event)
	if err != nil {
		return err
	}
	return j.Schedule(ctx, meta, payload)
}

// Schedule records a queued match score task and enqueues it. Usage is
// counted when the run starts, not here.
func (j *MatchScoreJob) Schedule(ctx context.Context, meta Meta, payload MatchScorePayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	return schedule(ctx, j.deps, j.Type(), "", meta, func(ctx context.Context) error {
		return Run(ctx, j.deps.Runner, j.def, meta, payload)
	})
}

func (j *MatchScoreJob) definition() *Definition[MatchScorePayload, matchScoreParams, matchScoreOutput] {
	return &Definition[MatchScorePayload, matchScoreParams, matchScoreOutput]{
		Type:         domain.TaskTypeMatchScore,
		BeforeRun:    j.beforeRun,
		GetService:   j.service,
		PrepareInput: j.prepareInput,
		HandleResult: j.handleResult,
		Cleanup:      j.cleanup,
		TrackSuccess: logSuccess[MatchScorePayload],
		TrackError:   logError[MatchScorePayload],
	}
}

func (j *MatchScoreJob) beforeRun(ctx context.Context, e *Execution[MatchScorePayload]) error {
	cv, err := j.cvs.GetByID(ctx, e.Input.CVID, e.UserID)
	if err != nil {
		return fmt.Errorf("failed to load cv: %w", err)
	}
	j.acquire(cv.ID)
	e.Attach(cvKey{}, cv)
	if err := j.cvs.SetMatchScoreStatus(ctx, cv.ID, domain.MatchScoreStatusCalculating); err != nil {
		return fmt.Errorf("failed to mark cv calculating: %w", err)
	}
	return nil
}

// service resolves the scorer only when a genuine score is needed.
func (j *MatchScoreJob) service(_ context.Context, services *ServiceRegistry) (ServiceFunc[matchScoreParams, matchScoreOutput], error) {
	return func(ctx context.Context, p matchScoreParams) (matchScoreOutput, error) {
		if p.cached != nil {
			if err := j.sleep(ctx, j.cachedDelay()); err != nil {
				return matchScoreOutput{}, err
			}
			return matchScoreOutput{score: p.cached, cached: true}, nil
		}
		scorer, err := Resolve[generation.MatchScorer](services, ServiceMatchScorer)
		if err != nil {
			return matchScoreOutput{}, err
		}
		score, err := scorer.ScoreMatch(ctx, p.request)
		if err != nil {
			return matchScoreOutput{}, err
		}
		if score == nil {
			return matchScoreOutput{}, errors.New("scorer returned no score")
		}
		return matchScoreOutput{score: score}, nil
	}, nil
}

func (j *MatchScoreJob) prepareInput(ctx context.Context, e *Execution[MatchScorePayload]) (matchScoreParams, error) {
	cv, err := attachedCV(e)
	if err != nil {
		return matchScoreParams{}, err
	}

	if cv.HasFreshMatchScore(j.now(), j.config.CacheWindow) {
		e.Logger.Debug("reusing cached match score", "cv_id", cv.ID)
		return matchScoreParams{cached: &domain.MatchScore{
			Score:       *cv.MatchScore,
			Analysis:    cv.MatchScoreAnalysis,
			Suggestions: cv.MatchScoreSuggestions,
		}}, nil
	}

	if !e.Input.Automatic && j.usage != nil {
		res, err := Reserve(ctx, j.usage, e.UserID)
		if err != nil {
			return matchScoreParams{}, err
		}
		e.Attach(reservationKey{}, res)
		e.AddCompensation(releaseUsageCompensation, res.Release)
	}

	return matchScoreParams{request: generation.MatchScoreRequest{
		CV:             cv.Content,
		JobDescription: e.Input.JobDescription,
	}}, nil
}

func (j *MatchScoreJob) handleResult(ctx context.Context, e *Execution[MatchScorePayload], raw matchScoreOutput) (*Outcome, error) {
	result := &MatchScoreResult{
		CVID:        e.Input.CVID,
		Score:       raw.score.Score,
		Analysis:    raw.score.Analysis,
		Suggestions: raw.score.Suggestions,
		Cached:      raw.cached,
	}
	out := &Outcome{
		Data:           result,
		TrackingData:   map[string]any{"cached": raw.cached, "score": raw.score.Score},
		SuccessMessage: fmt.Sprintf("Match score: %d", raw.score.Score),
	}
	if raw.cached {
		return out, nil
	}

	if err := j.cvs.SaveMatchScore(ctx, e.Input.CVID, *raw.score, j.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to save match score: %w", err)
	}

	if v, ok := e.Attached(reservationKey{}); ok {
		count, err := v.(*Reservation).Commit()
		if err != nil {
			return nil, err
		}
		e.DropCompensation(releaseUsageCompensation)
		result.UsageCount = &count
		out.TrackingData["usage_count"] = count
	}
	return out, nil
}

// cleanup returns the CV's mirror to idle when the last run scoring it
// ends.
func (j *MatchScoreJob) cleanup(ctx context.Context, e *Execution[MatchScorePayload]) error {
	cv, err := attachedCV(e)
	if err != nil {
		return nil
	}
	if others := j.release(cv.ID); others > 0 {
		e.Logger.Debug("cv still being scored by another task", "cv_id", cv.ID, "active", others)
		return nil
	}
	return j.cvs.SetMatchScoreStatus(ctx, cv.ID, domain.MatchScoreStatusIdle)
}

func (j *MatchScoreJob) acquire(cvID uuid.UUID) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.scoring[cvID]++
}

// release returns how many runs still score cvID.
func (j *MatchScoreJob) release(cvID uuid.UUID) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := j.scoring[cvID] - 1
	if n <= 0 {
		delete(j.scoring, cvID)
		return 0
	}
	j.scoring[cvID] = n
	return n
}

func (j *MatchScoreJob) cachedDelay() time.Duration {
	span := int64(j.config.CachedDelayMax - j.config.CachedDelayMin)
	if span <= 0 {
		return j.config.CachedDelayMin
	}
	return j.config.CachedDelayMin + time.Duration(j.jitter(span+1))
}

func attachedCV(e *Execution[MatchScorePayload]) (*domain.CV, error) {
	v, ok := e.Attached(cvKey{})
	if !ok {
		return nil, errors.New("cv not loaded")
	}
	return v.(*domain.CV), nil
}

// sleepContext waits for d or until ctx is done, returning the
// cancellation cause in the latter case.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
