package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ojbackend/internal/common/mq"
	problemrepo "ojbackend/internal/problem/repository"
	"ojbackend/internal/submission/model"
	"ojbackend/internal/submission/repository"
	"ojbackend/pkg/errors"
	"ojbackend/pkg/utils/logger"
)

const (
	defaultRequestTimeout = 10 * time.Second
	failureRecordTimeout  = 5 * time.Second
	defaultEventTopic     = "submission.judged"
)

// judgeRequest is the payload sent to the sandbox judge.
type judgeRequest struct {
	SubmissionID string                  `json:"submissionId"`
	ProblemID    int64                   `json:"problemId"`
	Language     string                  `json:"language"`
	SourceKey    string                  `json:"sourceKey"`
	CallbackURL  string                  `json:"callbackUrl,omitempty"`
	Cases        []problemrepo.CaseLimit `json:"cases"`
}

// judgedEvent is published after a judge result is applied.
type judgedEvent struct {
	SubmissionID string    `json:"submissionId"`
	ProblemID    int64     `json:"problemId"`
	Username     string    `json:"username"`
	Verdict      string    `json:"verdict"`
	Score        int       `json:"score"`
	JudgedAt     time.Time `json:"judgedAt"`
}

// Config defines configuration for the judge dispatcher.
type Config struct {
	BaseURL     string        `yaml:"baseURL"`
	CallbackURL string        `yaml:"callbackURL"`
	Timeout     time.Duration `yaml:"timeout"`
	EventTopic  string        `yaml:"eventTopic"`
}

// Dispatcher hands queued submissions to the external sandbox judge and
// applies the results it calls back with. Both directions go through the
// guarded status transition, so a submission is dispatched at most once
// and a result is applied at most once.
type Dispatcher struct {
	client      *http.Client
	baseURL     string
	callbackURL string
	repo        repository.SubmissionRepository
	problems    problemrepo.ProblemRepository
	producer    mq.Producer
	topic       string
}

// NewDispatcher creates a judge dispatcher. producer may be nil; result
// events are then skipped.
func NewDispatcher(cfg Config, repo repository.SubmissionRepository, problems problemrepo.ProblemRepository, producer mq.Producer) (*Dispatcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("judge baseURL is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = defaultEventTopic
	}
	return &Dispatcher{
		client:      &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		callbackURL: cfg.CallbackURL,
		repo:        repo,
		problems:    problems,
		producer:    producer,
		topic:       cfg.EventTopic,
	}, nil
}

// Dispatch sends one queued submission to the sandbox. On acceptance the
// submission moves queued -> judging; on any failure it moves
// queued -> dispatch-failed with the failure recorded, so an operator can
// re-queue it later.
func (d *Dispatcher) Dispatch(ctx context.Context, submission *model.Submission) error {
	if submission == nil {
		return errors.BadRequest("submission is required")
	}

	if err := d.send(ctx, submission); err != nil {
		d.markFailed(ctx, submission.SubmissionID, err)
		return err
	}

	ok, err := d.repo.Transition(ctx, submission.SubmissionID, model.StatusQueued, model.StatusJudging, nil)
	if err != nil {
		return errors.DownstreamError(err, errors.DatabaseError, "mark submission judging")
	}
	if !ok {
		// Someone else moved the submission first; the sandbox call has
		// already gone out, so just record what happened.
		logger.Warn(ctx, "submission left queued state during dispatch",
			zap.String("submission_id", submission.SubmissionID))
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, submission *model.Submission) error {
	meta, err := d.problems.GetJudgeMeta(ctx, submission.ProblemID)
	if err != nil {
		return errors.DownstreamError(err, errors.DispatchFailed, "load judge limits")
	}

	payload, err := json.Marshal(judgeRequest{
		SubmissionID: submission.SubmissionID,
		ProblemID:    submission.ProblemID,
		Language:     submission.LanguageType.String(),
		SourceKey:    submission.SourceKey,
		CallbackURL:  d.callbackURL,
		Cases:        meta.Cases,
	})
	if err != nil {
		return errors.Wrapf(err, errors.DispatchFailed, "encode judge request failed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/judge", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, errors.DispatchFailed, "build judge request failed")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.DownstreamError(err, errors.DispatchFailed, "call judge sandbox")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf(errors.DispatchFailed, "judge sandbox returned status %d", resp.StatusCode)
	}
	return nil
}

// markFailed records the failure so the operator can re-queue the
// submission later. The caller's context is usually already dead here
// (a timed-out send is the main failure mode), so the write runs on its
// own deadline detached from the caller's.
func (d *Dispatcher) markFailed(ctx context.Context, submissionID string, cause error) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()

	ok, err := d.repo.Transition(recordCtx, submissionID, model.StatusQueued, model.StatusDispatchFailed,
		&repository.TransitionExtra{LastError: cause.Error()})
	if err != nil {
		logger.Error(recordCtx, "record dispatch failure failed",
			zap.String("submission_id", submissionID), zap.Error(err))
		return
	}
	if !ok {
		logger.Warn(recordCtx, "dispatch failed but submission already left queued state",
			zap.String("submission_id", submissionID))
	}
}

// OnJudged applies a judge result. Only a submission in judging state
// accepts a result; late or duplicate callbacks are logged and dropped
// without error, so sandbox retries stay harmless.
func (d *Dispatcher) OnJudged(ctx context.Context, submissionID string, result *model.Result) error {
	if submissionID == "" {
		return errors.BadRequest("submissionID is required")
	}
	if result == nil || result.Verdict == "" {
		return errors.New(errors.JudgeResultRejected).WithMessage("judge result verdict is required")
	}

	submission, err := d.repo.GetByID(ctx, submissionID)
	if err != nil {
		if err == repository.ErrSubmissionNotFound {
			return errors.New(errors.SubmissionNotFound)
		}
		return errors.DownstreamError(err, errors.DatabaseError, "load submission")
	}

	ok, err := d.repo.Transition(ctx, submissionID, model.StatusJudging, model.StatusJudged,
		&repository.TransitionExtra{Result: result})
	if err != nil {
		return errors.DownstreamError(err, errors.DatabaseError, "apply judge result")
	}
	if !ok {
		logger.Warn(ctx, "judge result dropped, submission not in judging state",
			zap.String("submission_id", submissionID),
			zap.String("status", string(submission.Status)))
		return nil
	}

	logger.Info(ctx, "judge result applied",
		zap.String("submission_id", submissionID),
		zap.String("verdict", result.Verdict),
		zap.Int("score", result.Score))

	d.publishJudged(ctx, submission, result)
	return nil
}

// publishJudged emits the final-status event. Best effort: a broker
// outage must not fail the callback.
func (d *Dispatcher) publishJudged(ctx context.Context, submission *model.Submission, result *model.Result) {
	if d.producer == nil {
		return
	}
	body, err := json.Marshal(judgedEvent{
		SubmissionID: submission.SubmissionID,
		ProblemID:    submission.ProblemID,
		Username:     submission.Username,
		Verdict:      result.Verdict,
		Score:        result.Score,
		JudgedAt:     time.Now().UTC(),
	})
	if err != nil {
		logger.Error(ctx, "encode judged event failed",
			zap.String("submission_id", submission.SubmissionID), zap.Error(err))
		return
	}
	message := mq.NewMessage(body)
	message.SetHeader("x-submission-id", submission.SubmissionID)
	if err := d.producer.Publish(ctx, d.topic, message); err != nil {
		logger.Error(ctx, "publish judged event failed",
			zap.String("submission_id", submission.SubmissionID), zap.Error(err))
	}
}
