package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	problemrepo "ojbackend/internal/problem/repository"
	"ojbackend/internal/submission/model"
	"ojbackend/internal/submission/packager"
	"ojbackend/internal/submission/ratelimit"
	"ojbackend/internal/submission/repository"
	"ojbackend/internal/submission/token"
	"ojbackend/pkg/errors"
	"ojbackend/pkg/utils/logger"
)

const (
	defaultDispatchTimeout = 30 * time.Second
	failureRecordTimeout   = 5 * time.Second
)

// SourcePackager validates and stores uploaded source archives.
type SourcePackager interface {
	Prepare(lang model.Language, archive io.Reader) (*packager.Bundle, error)
	Store(ctx context.Context, submissionID string, bundle *packager.Bundle) (*packager.Artifact, error)
}

// JudgeDispatcher hands submissions to the sandbox and applies results.
type JudgeDispatcher interface {
	Dispatch(ctx context.Context, submission *model.Submission) error
	OnJudged(ctx context.Context, submissionID string, result *model.Result) error
}

// ClaimResult is what a successful claim hands back to the caller: the
// identity of the new submission and the one-shot token that authorizes
// its source upload.
type ClaimResult struct {
	SubmissionID string
	Token        string
}

// Config defines the collaborators of the submission service.
type Config struct {
	Repo       repository.SubmissionRepository
	Problems   problemrepo.ProblemRepository
	Tokens     *token.Authority
	Limiter    ratelimit.Limiter
	Packager   SourcePackager
	Dispatcher JudgeDispatcher

	// DispatchTimeout bounds the detached judge call made after an upload.
	DispatchTimeout time.Duration
}

func (c Config) validate() error {
	if c.Repo == nil {
		return fmt.Errorf("submission repository is required")
	}
	if c.Problems == nil {
		return fmt.Errorf("problem repository is required")
	}
	if c.Tokens == nil {
		return fmt.Errorf("token authority is required")
	}
	if c.Limiter == nil {
		return fmt.Errorf("rate limiter is required")
	}
	if c.Packager == nil {
		return fmt.Errorf("source packager is required")
	}
	if c.Dispatcher == nil {
		return fmt.Errorf("judge dispatcher is required")
	}
	return nil
}

// SubmissionService drives the two-phase submission flow: a claim that
// allocates an id plus upload token, and an upload that packages the
// source, queues the submission and kicks off the judge dispatch.
type SubmissionService struct {
	repo            repository.SubmissionRepository
	problems        problemrepo.ProblemRepository
	tokens          *token.Authority
	limiter         ratelimit.Limiter
	packager        SourcePackager
	dispatcher      JudgeDispatcher
	dispatchTimeout time.Duration

	// dispatchDone is signalled after each detached dispatch attempt.
	// Test hook; nil outside tests.
	dispatchDone chan struct{}
}

// NewSubmissionService creates the submission orchestrator.
func NewSubmissionService(cfg Config) (*SubmissionService, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	return &SubmissionService{
		repo:            cfg.Repo,
		problems:        cfg.Problems,
		tokens:          cfg.Tokens,
		limiter:         cfg.Limiter,
		packager:        cfg.Packager,
		dispatcher:      cfg.Dispatcher,
		dispatchTimeout: cfg.DispatchTimeout,
	}, nil
}

// Claim allocates a submission for username against problemID. The
// returned token must accompany the subsequent source upload. Claims are
// rate limited per user before any record is written.
func (s *SubmissionService) Claim(ctx context.Context, username string, problemID int64, lang model.Language) (*ClaimResult, error) {
	if username == "" {
		return nil, errors.New(errors.PrincipalMissing)
	}
	if !lang.Valid() {
		return nil, errors.New(errors.LanguageNotSupported)
	}

	allowed, err := s.problems.CanSubmit(ctx, problemID, username)
	if err != nil {
		if err == problemrepo.ErrProblemNotFound {
			return nil, errors.New(errors.ProblemNotFound)
		}
		return nil, errors.DownstreamError(err, errors.DatabaseError, "check problem")
	}
	if !allowed {
		return nil, errors.New(errors.ProblemNotSubmittable)
	}

	ok, err := s.limiter.TryAcquire(ctx, username)
	if err != nil {
		return nil, errors.DownstreamError(err, errors.CacheError, "check submit rate limit")
	}
	if !ok {
		return nil, errors.New(errors.SubmitTooFrequently)
	}

	now := time.Now().UTC()
	submission := &model.Submission{
		SubmissionID: uuid.NewString(),
		ProblemID:    problemID,
		Username:     username,
		LanguageType: lang,
		Status:       model.StatusPendingUpload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, submission); err != nil {
		return nil, errors.DownstreamError(err, errors.SubmissionCreateFailed, "create submission")
	}

	raw, err := s.tokens.Issue(submission.SubmissionID, username)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "submission claimed",
		zap.String("submission_id", submission.SubmissionID),
		zap.Int64("problem_id", problemID),
		zap.String("language", lang.String()))

	return &ClaimResult{SubmissionID: submission.SubmissionID, Token: raw}, nil
}

// Upload consumes the claim: it verifies the token, validates the
// archive, moves the submission to queued, stores the packaged source
// and starts the judge dispatch in the background. Validation happens
// before the status moves, so a rejected archive leaves the submission
// in pending-upload and the token still usable for a corrected retry.
// The pending-upload -> queued transition is what makes the token
// effectively single use; a replay loses the compare-and-set and gets
// AlreadySubmitted.
func (s *SubmissionService) Upload(ctx context.Context, submissionID, rawToken string, archive io.Reader) error {
	creator, err := s.tokens.Verify(submissionID, rawToken)
	if err != nil {
		return err
	}

	submission, err := s.repo.GetByID(ctx, submissionID)
	if err != nil {
		if err == repository.ErrSubmissionNotFound {
			return errors.New(errors.SubmissionNotFound)
		}
		return errors.DownstreamError(err, errors.DatabaseError, "load submission")
	}
	if submission.Username != creator {
		return errors.New(errors.TokenInvalid)
	}

	bundle, err := s.packager.Prepare(submission.LanguageType, archive)
	if err != nil {
		return err
	}

	ok, err := s.repo.Transition(ctx, submissionID, model.StatusPendingUpload, model.StatusQueued, nil)
	if err != nil {
		return errors.DownstreamError(err, errors.DatabaseError, "queue submission")
	}
	if !ok {
		return errors.New(errors.AlreadySubmitted)
	}

	artifact, err := s.packager.Store(ctx, submissionID, bundle)
	if err != nil {
		s.failUpload(ctx, submissionID, err)
		return err
	}

	if err := s.repo.SetSourceKey(ctx, submissionID, artifact.Key); err != nil {
		wrapped := errors.DownstreamError(err, errors.DatabaseError, "record source key")
		s.failUpload(ctx, submissionID, wrapped)
		return wrapped
	}
	submission.Status = model.StatusQueued
	submission.SourceKey = artifact.Key

	logger.Info(ctx, "submission queued",
		zap.String("submission_id", submissionID),
		zap.String("source_key", artifact.Key),
		zap.String("sha256", artifact.SHA256))

	s.dispatchAsync(submission)
	return nil
}

// failUpload records a post-queue upload failure (artifact store or
// source-key write). The submission is already queued at this point, so
// the transition target is upload-failed. The request context may have
// died mid-upload (a dropped client cancels it), so the write runs on
// its own deadline detached from the request's.
func (s *SubmissionService) failUpload(ctx context.Context, submissionID string, cause error) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()

	ok, err := s.repo.Transition(recordCtx, submissionID, model.StatusQueued, model.StatusUploadFailed,
		&repository.TransitionExtra{LastError: cause.Error()})
	if err != nil {
		logger.Error(recordCtx, "record upload failure failed",
			zap.String("submission_id", submissionID), zap.Error(err))
		return
	}
	if !ok {
		logger.Warn(recordCtx, "upload failed but submission already left queued state",
			zap.String("submission_id", submissionID))
	}
}

// dispatchAsync runs the judge dispatch on a detached context so the
// upload response does not wait on the sandbox.
func (s *SubmissionService) dispatchAsync(submission *model.Submission) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
		defer cancel()
		if err := s.dispatcher.Dispatch(ctx, submission); err != nil {
			logger.Error(ctx, "judge dispatch failed",
				zap.String("submission_id", submission.SubmissionID),
				zap.Int("code", int(errors.GetCode(err))),
				zap.Error(err))
		}
		if s.dispatchDone != nil {
			s.dispatchDone <- struct{}{}
		}
	}()
}

// HandleJudgeResult applies an inbound judge callback.
func (s *SubmissionService) HandleJudgeResult(ctx context.Context, submissionID string, result *model.Result) error {
	return s.dispatcher.OnJudged(ctx, submissionID, result)
}

// Redispatch re-queues a dispatch-failed submission and retries the
// judge call. Operator action; anything not in dispatch-failed state is
// rejected.
func (s *SubmissionService) Redispatch(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return errors.BadRequest("submissionID is required")
	}

	ok, err := s.repo.Transition(ctx, submissionID, model.StatusDispatchFailed, model.StatusQueued, nil)
	if err != nil {
		return errors.DownstreamError(err, errors.DatabaseError, "re-queue submission")
	}
	if !ok {
		if _, err := s.repo.GetByID(ctx, submissionID); err == repository.ErrSubmissionNotFound {
			return errors.New(errors.SubmissionNotFound)
		}
		return errors.New(errors.RedispatchRejected)
	}

	submission, err := s.repo.GetByID(ctx, submissionID)
	if err != nil {
		return errors.DownstreamError(err, errors.DatabaseError, "load submission")
	}

	logger.Info(ctx, "submission re-queued for dispatch",
		zap.String("submission_id", submissionID))

	s.dispatchAsync(submission)
	return nil
}

// Get returns one submission.
func (s *SubmissionService) Get(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.BadRequest("submissionID is required")
	}
	submission, err := s.repo.GetByID(ctx, submissionID)
	if err != nil {
		if err == repository.ErrSubmissionNotFound {
			return nil, errors.New(errors.SubmissionNotFound)
		}
		return nil, errors.DownstreamError(err, errors.DatabaseError, "load submission")
	}
	return submission, nil
}

// List returns submissions matching filter plus the total match count.
// Offset must be non-negative; count of -1 means everything after offset.
// An offset pointing past the result set is an error rather than an empty
// page.
func (s *SubmissionService) List(ctx context.Context, filter repository.ListFilter) ([]*model.Submission, int64, error) {
	if filter.Offset < 0 {
		return nil, 0, errors.BadRequest("offset must be non-negative")
	}
	if filter.Count < -1 {
		return nil, 0, errors.BadRequest("count must be -1 or non-negative")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, errors.BadRequest("unknown status filter")
	}

	submissions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, errors.DownstreamError(err, errors.DatabaseError, "list submissions")
	}
	if filter.Offset > 0 && int64(filter.Offset) >= total {
		return nil, 0, errors.New(errors.InvalidParams).WithMessagef("offset %d is out of range", filter.Offset)
	}
	return submissions, total, nil
}
