package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ojbackend/internal/common/http/middleware"
	problemrepo "ojbackend/internal/problem/repository"
	"ojbackend/internal/submission/model"
	"ojbackend/internal/submission/packager"
	"ojbackend/internal/submission/ratelimit"
	"ojbackend/internal/submission/repository"
	"ojbackend/internal/submission/service"
	"ojbackend/internal/submission/token"
	"ojbackend/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memRepo struct {
	mu          sync.Mutex
	submissions map[string]*model.Submission
}

func newMemRepo() *memRepo {
	return &memRepo{submissions: make(map[string]*model.Submission)}
}

func (r *memRepo) Create(_ context.Context, submission *model.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *submission
	r.submissions[submission.SubmissionID] = &clone
	return nil
}

func (r *memRepo) GetByID(_ context.Context, submissionID string) (*model.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[submissionID]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	clone := *submission
	return &clone, nil
}

func (r *memRepo) List(_ context.Context, _ repository.ListFilter) ([]*model.Submission, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Submission
	for _, submission := range r.submissions {
		clone := *submission
		out = append(out, &clone)
	}
	return out, int64(len(out)), nil
}

func (r *memRepo) Transition(_ context.Context, submissionID string, from, to model.Status, extra *repository.TransitionExtra) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[submissionID]
	if !ok || submission.Status != from {
		return false, nil
	}
	submission.Status = to
	if extra != nil && extra.Result != nil {
		submission.Result = extra.Result
	}
	if extra != nil && extra.LastError != "" {
		submission.LastError = extra.LastError
	}
	return true, nil
}

func (r *memRepo) SetSourceKey(_ context.Context, submissionID, sourceKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if submission, ok := r.submissions[submissionID]; ok {
		submission.SourceKey = sourceKey
	}
	return nil
}

type openProblems struct{}

func (openProblems) CanSubmit(_ context.Context, _ int64, _ string) (bool, error) { return true, nil }

func (openProblems) GetJudgeMeta(_ context.Context, problemID int64) (*problemrepo.JudgeMeta, error) {
	return &problemrepo.JudgeMeta{ProblemID: problemID}, nil
}

type passPackager struct{}

func (passPackager) Prepare(_ model.Language, archive io.Reader) (*packager.Bundle, error) {
	data, err := io.ReadAll(archive)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New(errors.EmptyUpload)
	}
	return &packager.Bundle{}, nil
}

func (passPackager) Store(_ context.Context, submissionID string, _ *packager.Bundle) (*packager.Artifact, error) {
	return &packager.Artifact{Key: "source/" + submissionID + "/src.zip"}, nil
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(_ context.Context, _ *model.Submission) error { return nil }

func (noopDispatcher) OnJudged(_ context.Context, _ string, _ *model.Result) error { return nil }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	tokens, err := token.NewAuthority(token.Config{Secret: "test-secret", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewAuthority failed: %v", err)
	}
	svc, err := service.NewSubmissionService(service.Config{
		Repo:       newMemRepo(),
		Problems:   openProblems{},
		Tokens:     tokens,
		Limiter:    ratelimit.NewMemoryLimiter(10 * time.Second),
		Packager:   passPackager{},
		Dispatcher: noopDispatcher{},
	})
	if err != nil {
		t.Fatalf("NewSubmissionService failed: %v", err)
	}

	router := gin.New()
	router.Use(middleware.TraceContextMiddleware())
	NewSubmissionController(svc).RegisterRoutes(router.Group("/"))
	return router
}

type envelope struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	var env envelope
	if err := json.Unmarshal(recorder.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response failed: %v (%s)", err, recorder.Body.String())
	}
	return recorder, env
}

func claimSubmission(t *testing.T, router *gin.Engine, username string) ClaimResponse {
	t.Helper()
	recorder, env := doJSON(t, router, http.MethodPost, "/submission",
		gin.H{"problemId": 1, "languageType": 2},
		map[string]string{"X-Username": username})
	if recorder.Code != http.StatusOK {
		t.Fatalf("claim returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var claim ClaimResponse
	if err := json.Unmarshal(env.Data, &claim); err != nil {
		t.Fatalf("decode claim failed: %v", err)
	}
	return claim
}

func uploadArchive(t *testing.T, router *gin.Engine, claim ClaimResponse, field, contents string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, "src.zip")
	if err != nil {
		t.Fatalf("create form file failed: %v", err)
	}
	if _, err := part.Write([]byte(contents)); err != nil {
		t.Fatalf("write form file failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/submission/"+claim.SubmissionID+"?token="+claim.Token, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Username", "alice")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestClaimRequiresPrincipal(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	recorder, env := doJSON(t, router, http.MethodPost, "/submission",
		gin.H{"problemId": 1, "languageType": 2}, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", recorder.Code)
	}
	if env.Code != errors.PrincipalMissing {
		t.Errorf("code: got %d, want PrincipalMissing", env.Code)
	}
}

func TestClaimThenUploadFlow(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	claim := claimSubmission(t, router, "alice")
	if claim.SubmissionID == "" || claim.Token == "" {
		t.Fatalf("incomplete claim: %+v", claim)
	}

	recorder := uploadArchive(t, router, claim, "code", "zip-bytes")
	if recorder.Code != http.StatusOK {
		t.Fatalf("upload returned %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder2, env := doJSON(t, router, http.MethodGet, "/submission/"+claim.SubmissionID, nil,
		map[string]string{"X-Username": "alice"})
	if recorder2.Code != http.StatusOK {
		t.Fatalf("get returned %d", recorder2.Code)
	}
	var view SubmissionView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode view failed: %v", err)
	}
	if view.Status != string(model.StatusQueued) {
		t.Errorf("status: got %s, want queued", view.Status)
	}
	if view.Language != "python3" {
		t.Errorf("language: got %s", view.Language)
	}
}

func TestSecondClaimRateLimited(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	claimSubmission(t, router, "alice")

	recorder, env := doJSON(t, router, http.MethodPost, "/submission",
		gin.H{"problemId": 1, "languageType": 2},
		map[string]string{"X-Username": "alice"})
	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("status: got %d, want 429", recorder.Code)
	}
	if env.Code != errors.SubmitTooFrequently {
		t.Errorf("code: got %d, want SubmitTooFrequently", env.Code)
	}
}

func TestUploadRejectsWrongFieldName(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	claim := claimSubmission(t, router, "alice")

	recorder := uploadArchive(t, router, claim, "attachment", "zip-bytes")
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", recorder.Code)
	}
}

func TestUploadRequiresToken(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	claim := claimSubmission(t, router, "alice")

	claim.Token = ""
	recorder := uploadArchive(t, router, claim, "code", "zip-bytes")
	if recorder.Code != http.StatusForbidden {
		t.Errorf("status: got %d, want 403", recorder.Code)
	}
}

func TestUploadReplayReturnsConflict(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	claim := claimSubmission(t, router, "alice")

	if recorder := uploadArchive(t, router, claim, "code", "zip-bytes"); recorder.Code != http.StatusOK {
		t.Fatalf("first upload returned %d", recorder.Code)
	}
	recorder := uploadArchive(t, router, claim, "code", "zip-bytes")
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", recorder.Code)
	}
	var env envelope
	if err := json.Unmarshal(recorder.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if env.Code != errors.AlreadySubmitted {
		t.Errorf("code: got %d, want AlreadySubmitted", env.Code)
	}
}

func TestJudgeCallbackAppliesResult(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	recorder, _ := doJSON(t, router, http.MethodPut, "/submission/sub-1/judge",
		gin.H{"verdict": "AC", "score": 100}, nil)
	// noopDispatcher accepts everything; the route itself must be open to
	// the sandbox without principal headers.
	if recorder.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", recorder.Code)
	}
}

func TestRejudgeRequiresAdminRole(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	recorder, _ := doJSON(t, router, http.MethodPost, "/submission/sub-1/rejudge", nil,
		map[string]string{"X-Username": "alice"})
	if recorder.Code != http.StatusForbidden {
		t.Errorf("status: got %d, want 403", recorder.Code)
	}
}
