package repository

import (
	"context"
	"errors"

	"ojbackend/internal/common/db"
)

const (
	problemStatusOnline = 1
)

var (
	ErrProblemNotFound = errors.New("problem not found")
)

// CaseLimit is the resource budget for one test case, forwarded to the
// judge sandbox with the dispatch request.
type CaseLimit struct {
	TimeLimitMS   int64 `json:"timeLimit"`
	MemoryLimitKB int64 `json:"memoryLimit"`
	Score         int   `json:"caseScore"`
}

// JudgeMeta is the problem configuration the dispatcher needs.
type JudgeMeta struct {
	ProblemID int64
	Cases     []CaseLimit
}

// ProblemRepository is the read-only gate the submission pipeline uses:
// whether a user may submit to a problem, and the per-case resource
// limits for the judge request.
type ProblemRepository interface {
	// CanSubmit reports whether the problem accepts submissions from the
	// given user. A missing problem yields ErrProblemNotFound.
	CanSubmit(ctx context.Context, problemID int64, username string) (bool, error)

	// GetJudgeMeta loads the per-case limits used to build judge requests.
	GetJudgeMeta(ctx context.Context, problemID int64) (*JudgeMeta, error)
}

// MySQLProblemRepository implements ProblemRepository with MySQL.
type MySQLProblemRepository struct {
	db db.Database
}

func NewProblemRepository(database db.Database) ProblemRepository {
	return &MySQLProblemRepository{db: database}
}

func (r *MySQLProblemRepository) CanSubmit(ctx context.Context, problemID int64, username string) (bool, error) {
	if problemID <= 0 {
		return false, ErrProblemNotFound
	}
	var status int
	var owner string
	row := r.db.QueryRow(ctx, "SELECT problem_status, owner FROM problems WHERE problem_id = ? LIMIT 1", problemID)
	if err := row.Scan(&status, &owner); err != nil {
		if db.IsNoRows(err) {
			return false, ErrProblemNotFound
		}
		return false, err
	}
	// Offline problems accept submissions from their owner only.
	if status != problemStatusOnline && owner != username {
		return false, nil
	}
	return true, nil
}

func (r *MySQLProblemRepository) GetJudgeMeta(ctx context.Context, problemID int64) (*JudgeMeta, error) {
	if problemID <= 0 {
		return nil, ErrProblemNotFound
	}
	var exists int
	row := r.db.QueryRow(ctx, "SELECT 1 FROM problems WHERE problem_id = ? LIMIT 1", problemID)
	if err := row.Scan(&exists); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		"SELECT time_limit_ms, memory_limit_kb, case_score FROM problem_cases WHERE problem_id = ? ORDER BY case_no ASC",
		problemID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := &JudgeMeta{ProblemID: problemID}
	for rows.Next() {
		var limit CaseLimit
		if err := rows.Scan(&limit.TimeLimitMS, &limit.MemoryLimitKB, &limit.Score); err != nil {
			return nil, err
		}
		meta.Cases = append(meta.Cases, limit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return meta, nil
}
