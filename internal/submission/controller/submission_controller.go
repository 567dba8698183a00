package controller

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ojbackend/internal/common/http/middleware"
	"ojbackend/internal/submission/model"
	"ojbackend/internal/submission/repository"
	"ojbackend/internal/submission/service"
	pkgerrors "ojbackend/pkg/errors"
	"ojbackend/pkg/utils/response"
)

const uploadFieldName = "code"

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	submissionService *service.SubmissionService
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(submissionService *service.SubmissionService) *SubmissionController {
	return &SubmissionController{submissionService: submissionService}
}

// RegisterRoutes wires the submission routes onto the router group.
func (h *SubmissionController) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/submission", middleware.PrincipalMiddleware(), h.Claim)
	group.PUT("/submission/:id", middleware.PrincipalMiddleware(), h.Upload)
	group.GET("/submission/:id", middleware.PrincipalMiddleware(), h.Get)
	group.GET("/submission", middleware.PrincipalMiddleware(), h.List)
	group.POST("/submission/:id/rejudge", middleware.PrincipalMiddleware(), middleware.RequireRole("admin"), h.Rejudge)

	// Inbound sandbox callback; not routed through the gateway.
	group.PUT("/submission/:id/judge", h.JudgeCallback)
}

// Claim allocates a submission id and upload token.
func (h *SubmissionController) Claim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if req.ProblemID <= 0 {
		response.Error(c, pkgerrors.ValidationError("problemId", "must be a positive integer"))
		return
	}
	if req.LanguageType == nil {
		response.Error(c, pkgerrors.ValidationError("languageType", "is required"))
		return
	}

	claim, err := h.submissionService.Claim(
		c.Request.Context(),
		middleware.Username(c),
		req.ProblemID,
		model.Language(*req.LanguageType),
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ClaimResponse{
		SubmissionID: claim.SubmissionID,
		Token:        claim.Token,
	})
}

// Upload receives the source archive for a claimed submission.
func (h *SubmissionController) Upload(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	rawToken := strings.TrimSpace(c.Query("token"))
	if rawToken == "" {
		response.ErrorWithCode(c, pkgerrors.TokenInvalid, "")
		return
	}

	fileHeader, err := c.FormFile(uploadFieldName)
	if err != nil {
		response.BadRequest(c, "multipart field \"code\" is required")
		return
	}
	archive, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "cannot read uploaded file")
		return
	}
	defer archive.Close()

	if err := h.submissionService.Upload(c.Request.Context(), submissionID, rawToken, archive); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, UploadResponse{SubmissionID: submissionID, Status: string(model.StatusQueued)})
}

// Get returns one submission.
func (h *SubmissionController) Get(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.submissionService.Get(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionView(submission))
}

// List returns submissions matching the query filters.
func (h *SubmissionController) List(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	submissions, total, err := h.submissionService.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]SubmissionView, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, toSubmissionView(submission))
	}
	response.Success(c, ListResponse{Items: items, Total: total})
}

// Rejudge re-queues a dispatch-failed submission.
func (h *SubmissionController) Rejudge(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	if err := h.submissionService.Redispatch(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, UploadResponse{SubmissionID: submissionID, Status: string(model.StatusQueued)})
}

// JudgeCallback applies a judge result delivered by the sandbox.
func (h *SubmissionController) JudgeCallback(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	var req JudgeResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	result := &model.Result{
		Verdict:     req.Verdict,
		Score:       req.Score,
		RunTime:     req.RunTime,
		MemoryUsage: req.MemoryUsage,
	}
	for _, item := range req.Cases {
		result.Cases = append(result.Cases, model.CaseResult{
			Verdict:     item.Verdict,
			Score:       item.Score,
			RunTime:     item.RunTime,
			MemoryUsage: item.MemoryUsage,
		})
	}

	if err := h.submissionService.HandleJudgeResult(c.Request.Context(), submissionID, result); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func parseListFilter(c *gin.Context) (repository.ListFilter, error) {
	filter := repository.ListFilter{
		Username: strings.TrimSpace(c.Query("username")),
		Status:   model.Status(strings.TrimSpace(c.Query("status"))),
		Offset:   0,
		Count:    -1,
	}

	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return filter, pkgerrors.BadRequest("offset must be an integer")
		}
		filter.Offset = offset
	}
	if raw := c.Query("count"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return filter, pkgerrors.BadRequest("count must be an integer")
		}
		filter.Count = count
	}
	if raw := c.Query("problemId"); raw != "" {
		problemID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, pkgerrors.BadRequest("problemId must be an integer")
		}
		filter.ProblemID = problemID
	}
	if raw := c.Query("languageType"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return filter, pkgerrors.BadRequest("languageType must be an integer")
		}
		lang := model.Language(value)
		if !lang.Valid() {
			return filter, pkgerrors.New(pkgerrors.LanguageNotSupported)
		}
		filter.LanguageType = &lang
	}
	return filter, nil
}

// ClaimRequest defines the claim payload.
type ClaimRequest struct {
	ProblemID    int64 `json:"problemId"`
	LanguageType *int  `json:"languageType"`
}

// ClaimResponse carries the new submission id and its upload token.
type ClaimResponse struct {
	SubmissionID string `json:"submissionId"`
	Token        string `json:"token"`
}

// UploadResponse acknowledges a state-changing submission operation.
type UploadResponse struct {
	SubmissionID string `json:"submissionId"`
	Status       string `json:"status"`
}

// JudgeResultRequest is the sandbox callback payload.
type JudgeResultRequest struct {
	Verdict     string            `json:"verdict" binding:"required"`
	Score       int               `json:"score"`
	RunTime     int64             `json:"runTime"`
	MemoryUsage int64             `json:"memoryUsage"`
	Cases       []JudgeCaseResult `json:"cases"`
}

// JudgeCaseResult is one per-case verdict in the callback payload.
type JudgeCaseResult struct {
	Verdict     string `json:"verdict"`
	Score       int    `json:"score"`
	RunTime     int64  `json:"runTime"`
	MemoryUsage int64  `json:"memoryUsage"`
}

// SubmissionView is the API shape of a submission.
type SubmissionView struct {
	SubmissionID string        `json:"submissionId"`
	ProblemID    int64         `json:"problemId"`
	Username     string        `json:"username"`
	LanguageType int           `json:"languageType"`
	Language     string        `json:"language"`
	Status       string        `json:"status"`
	LastError    string        `json:"lastError,omitempty"`
	Result       *model.Result `json:"result,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ListResponse wraps a submission page.
type ListResponse struct {
	Items []SubmissionView `json:"items"`
	Total int64            `json:"total"`
}

func toSubmissionView(submission *model.Submission) SubmissionView {
	return SubmissionView{
		SubmissionID: submission.SubmissionID,
		ProblemID:    submission.ProblemID,
		Username:     submission.Username,
		LanguageType: int(submission.LanguageType),
		Language:     submission.LanguageType.String(),
		Status:       string(submission.Status),
		LastError:    submission.LastError,
		Result:       submission.Result,
		CreatedAt:    submission.CreatedAt,
		UpdatedAt:    submission.UpdatedAt,
	}
}
