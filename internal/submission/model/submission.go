package model

import "time"

// Status is the lifecycle state of a submission.
//
// pending-upload -> queued -> judging -> judged
//
// upload-failed is reachable from pending-upload/queued when packaging
// fails; dispatch-failed is reachable from queued when the sandbox call
// fails. judged, upload-failed and dispatch-failed are terminal, except
// that an operator may re-queue a dispatch-failed submission for a fresh
// dispatch attempt.
type Status string

const (
	StatusPendingUpload  Status = "pending-upload"
	StatusQueued         Status = "queued"
	StatusJudging        Status = "judging"
	StatusJudged         Status = "judged"
	StatusUploadFailed   Status = "upload-failed"
	StatusDispatchFailed Status = "dispatch-failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingUpload, StatusQueued, StatusJudging,
		StatusJudged, StatusUploadFailed, StatusDispatchFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
// dispatch-failed is terminal for the pipeline itself; only the
// operator re-dispatch path may leave it.
func (s Status) Terminal() bool {
	switch s {
	case StatusJudged, StatusUploadFailed, StatusDispatchFailed:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits s -> to.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPendingUpload:
		return to == StatusQueued || to == StatusUploadFailed
	case StatusQueued:
		return to == StatusJudging || to == StatusUploadFailed || to == StatusDispatchFailed
	case StatusJudging:
		return to == StatusJudged
	case StatusDispatchFailed:
		// operator re-dispatch only
		return to == StatusQueued
	}
	return false
}

// Language is the declared programming language of a submission.
type Language int

const (
	LanguageC      Language = 0
	LanguageCPP    Language = 1
	LanguagePython Language = 2
)

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	return l >= LanguageC && l <= LanguagePython
}

// EntryPoint returns the single source file an archive must contain
// for this language.
func (l Language) EntryPoint() string {
	switch l {
	case LanguageC:
		return "main.c"
	case LanguageCPP:
		return "main.cpp"
	case LanguagePython:
		return "main.py"
	}
	return ""
}

func (l Language) String() string {
	switch l {
	case LanguageC:
		return "c11"
	case LanguageCPP:
		return "cpp11"
	case LanguagePython:
		return "python3"
	}
	return "unknown"
}

// Submission is one judge submission record.
type Submission struct {
	SubmissionID string    `json:"submissionId"`
	ProblemID    int64     `json:"problemId"`
	Username     string    `json:"username"`
	LanguageType Language  `json:"languageType"`
	Status       Status    `json:"status"`
	SourceKey    string    `json:"sourceKey,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
	Result       *Result   `json:"result,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Result holds judged results; present iff Status == judged.
type Result struct {
	Verdict     string       `json:"verdict"`
	Score       int          `json:"score"`
	RunTime     int64        `json:"runTime"`     // milliseconds
	MemoryUsage int64        `json:"memoryUsage"` // kilobytes
	Cases       []CaseResult `json:"perCaseResults,omitempty"`
}

// CaseResult is the verdict for one test case.
type CaseResult struct {
	Verdict     string `json:"verdict"`
	Score       int    `json:"score"`
	RunTime     int64  `json:"runTime"`
	MemoryUsage int64  `json:"memoryUsage"`
}
