package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ojbackend/internal/common/cache"
	"ojbackend/internal/common/db"
	"ojbackend/internal/submission/model"
)

const (
	defaultSubmissionCacheTTL = 30 * time.Minute
	submissionCacheKeyPrefix  = "submission:"

	// readRepairTTL bounds cache entries written on the read path. That
	// write can race a concurrent Transition's invalidation and re-install
	// a stale row, so its lifetime is kept short.
	readRepairTTL = 15 * time.Second
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// TransitionExtra carries the fields written together with a status change.
type TransitionExtra struct {
	LastError string
	Result    *model.Result
}

// ListFilter selects submissions for List.
// Count -1 means "all remaining records after Offset".
type ListFilter struct {
	Username     string
	ProblemID    int64
	Status       model.Status
	LanguageType *model.Language
	Offset       int
	Count        int
}

// SubmissionRepository owns submission records, identity allocation and
// the guarded status transition.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.Submission) error
	GetByID(ctx context.Context, submissionID string) (*model.Submission, error)
	List(ctx context.Context, filter ListFilter) ([]*model.Submission, int64, error)

	// Transition performs a compare-and-set on status: the row is updated
	// only if its current status equals from. Returns false (no-op) when
	// the guard does not hold, so concurrent callers cannot double-process
	// the same submission.
	Transition(ctx context.Context, submissionID string, from, to model.Status, extra *TransitionExtra) (bool, error)

	// SetSourceKey records the stored-source reference. The packager is
	// the single writer of this field.
	SetSourceKey(ctx context.Context, submissionID, sourceKey string) error
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL,
// mirroring records into the cache for cheap status polling.
type MySQLSubmissionRepository struct {
	db    db.Database
	cache cache.Cache
	ttl   time.Duration
}

// NewSubmissionRepository creates a submission repository with default cache TTL.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) SubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom cache TTL.
func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl time.Duration) SubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	return &MySQLSubmissionRepository{
		db:    database,
		cache: cacheClient,
		ttl:   ttl,
	}
}

const submissionColumns = "submission_id, problem_id, username, language_type, status, source_key, last_error, verdict, score, run_time, memory_usage, case_results, created_at, updated_at"

// Create inserts a new record in pending-upload status.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if submission.Username == "" {
		return errors.New("username is required")
	}
	if !submission.LanguageType.Valid() {
		return errors.New("languageType is invalid")
	}
	if submission.Status == "" {
		submission.Status = model.StatusPendingUpload
	}

	query := `
		INSERT INTO submissions
		(submission_id, problem_id, username, language_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(
		ctx,
		query,
		submission.SubmissionID,
		submission.ProblemID,
		submission.Username,
		int(submission.LanguageType),
		string(submission.Status),
		submission.CreatedAt,
		submission.CreatedAt,
	)
	if err != nil {
		if key, ok := db.UniqueViolation(err); ok {
			return fmt.Errorf("submission already exists (key %s)", key)
		}
		return err
	}
	r.setCache(ctx, submission, r.ttl)
	return nil
}

// GetByID retrieves a submission by id, cache first.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, submissionCacheKey(submissionID)); err == nil && cached != "" {
			var submission model.Submission
			if err := json.Unmarshal([]byte(cached), &submission); err == nil {
				return &submission, nil
			}
		}
	}
	submission, err := r.getByIDFromDB(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	r.setCache(ctx, submission, readRepairTTL)
	return submission, nil
}

// List returns filtered submissions ordered by creation time (newest first)
// together with the total count matching the filter. Count and page run
// in one transaction so the total always matches the rows.
func (r *MySQLSubmissionRepository) List(ctx context.Context, filter ListFilter) ([]*model.Submission, int64, error) {
	where, args := buildListWhere(filter)
	countQuery := "SELECT COUNT(*) FROM submissions" + where

	query := "SELECT " + submissionColumns + " FROM submissions" + where + " ORDER BY created_at DESC, submission_id DESC"
	pageArgs := args
	if filter.Count >= 0 {
		query += " LIMIT ? OFFSET ?"
		pageArgs = append(append([]interface{}(nil), args...), filter.Count, filter.Offset)
	} else if filter.Offset > 0 {
		// MySQL has no offset-without-limit form.
		query += " LIMIT 18446744073709551615 OFFSET ?"
		pageArgs = append(append([]interface{}(nil), args...), filter.Offset)
	}

	var (
		total       int64
		submissions []*model.Submission
	)
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		if err := tx.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, query, pageArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			submission, err := scanSubmission(rows)
			if err != nil {
				return err
			}
			submissions = append(submissions, submission)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return submissions, total, nil
}

// Transition performs the guarded compare-and-set described by the
// SubmissionRepository contract. The WHERE clause on the prior status is
// what linearizes concurrent writers; rows-affected tells us who won.
func (r *MySQLSubmissionRepository) Transition(ctx context.Context, submissionID string, from, to model.Status, extra *TransitionExtra) (bool, error) {
	if submissionID == "" {
		return false, errors.New("submissionID is required")
	}
	if !from.CanTransition(to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(to), time.Now().UTC()}

	if extra != nil {
		if extra.LastError != "" {
			sets = append(sets, "last_error = ?")
			args = append(args, extra.LastError)
		}
		if extra.Result != nil {
			caseJSON, err := json.Marshal(extra.Result.Cases)
			if err != nil {
				return false, fmt.Errorf("encode case results failed: %w", err)
			}
			sets = append(sets, "verdict = ?", "score = ?", "run_time = ?", "memory_usage = ?", "case_results = ?")
			args = append(args, extra.Result.Verdict, extra.Result.Score, extra.Result.RunTime, extra.Result.MemoryUsage, string(caseJSON))
		}
	}

	query := "UPDATE submissions SET " + strings.Join(sets, ", ") + " WHERE submission_id = ? AND status = ?"
	args = append(args, submissionID, string(from))

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	r.invalidateCache(ctx, submissionID)
	return true, nil
}

// SetSourceKey records where the packaged source lives.
func (r *MySQLSubmissionRepository) SetSourceKey(ctx context.Context, submissionID, sourceKey string) error {
	if submissionID == "" {
		return errors.New("submissionID is required")
	}
	if sourceKey == "" {
		return errors.New("sourceKey is required")
	}
	query := "UPDATE submissions SET source_key = ?, updated_at = ? WHERE submission_id = ?"
	if _, err := r.db.Exec(ctx, query, sourceKey, time.Now().UTC(), submissionID); err != nil {
		return err
	}
	r.invalidateCache(ctx, submissionID)
	return nil
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, submissionID string) (*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := r.db.QueryRow(ctx, query, submissionID)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	submission := &model.Submission{}
	var (
		languageType int
		status       string
		sourceKey    *string
		lastError    *string
		verdict      *string
		score        *int
		runTime      *int64
		memoryUsage  *int64
		caseJSON     *string
	)
	if err := row.Scan(
		&submission.SubmissionID,
		&submission.ProblemID,
		&submission.Username,
		&languageType,
		&status,
		&sourceKey,
		&lastError,
		&verdict,
		&score,
		&runTime,
		&memoryUsage,
		&caseJSON,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	); err != nil {
		return nil, err
	}
	submission.LanguageType = model.Language(languageType)
	submission.Status = model.Status(status)
	if sourceKey != nil {
		submission.SourceKey = *sourceKey
	}
	if lastError != nil {
		submission.LastError = *lastError
	}
	if submission.Status == model.StatusJudged && verdict != nil {
		result := &model.Result{Verdict: *verdict}
		if score != nil {
			result.Score = *score
		}
		if runTime != nil {
			result.RunTime = *runTime
		}
		if memoryUsage != nil {
			result.MemoryUsage = *memoryUsage
		}
		if caseJSON != nil && *caseJSON != "" {
			if err := json.Unmarshal([]byte(*caseJSON), &result.Cases); err != nil {
				return nil, fmt.Errorf("decode case results failed: %w", err)
			}
		}
		submission.Result = result
	}
	return submission, nil
}

func buildListWhere(filter ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Username != "" {
		conds = append(conds, "username = ?")
		args = append(args, filter.Username)
	}
	if filter.ProblemID > 0 {
		conds = append(conds, "problem_id = ?")
		args = append(args, filter.ProblemID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.LanguageType != nil {
		conds = append(conds, "language_type = ?")
		args = append(args, int(*filter.LanguageType))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *MySQLSubmissionRepository) setCache(ctx context.Context, submission *model.Submission, ttl time.Duration) {
	if submission == nil || r.cache == nil {
		return
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, submissionCacheKey(submission.SubmissionID), string(data), cache.JitterTTL(ttl))
}

func (r *MySQLSubmissionRepository) invalidateCache(ctx context.Context, submissionID string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, submissionCacheKey(submissionID))
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}
