package submission

import (
	"strconv"

	"skillsnap/internal/common/httpmw"
	"skillsnap/internal/judge/lang"
	"skillsnap/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmitRequest is the submission intake payload.
type SubmitRequest struct {
	ProblemID  int64  `json:"problem_id" binding:"required"`
	LanguageID string `json:"language_id" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// Controller handles submission HTTP endpoints.
type Controller struct {
	service   *Service
	languages *lang.Registry
}

func NewController(service *Service, languages *lang.Registry) *Controller {
	return &Controller{service: service, languages: languages}
}

func (ctl *Controller) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/submissions", ctl.Create)
	group.GET("/submissions", ctl.List)
	group.GET("/submissions/:id", ctl.GetDetail)
	group.GET("/submissions/:id/status", ctl.GetStatus)
	group.DELETE("/submissions/:id", ctl.Retract)
	group.GET("/languages", ctl.Languages)
}

// Create handles POST /api/submissions.
func (ctl *Controller) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	submissionID, err := ctl.service.Submit(c.Request.Context(), SubmitInput{
		UserID:     httpmw.UserID(c),
		ProblemID:  req.ProblemID,
		LanguageID: req.LanguageID,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SubmitResponse{
		SubmissionID: submissionID,
		Status:       string(StatusPending),
	})
}

// GetDetail handles GET /api/submissions/:id.
func (ctl *Controller) GetDetail(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	detail, err := ctl.service.GetDetail(c.Request.Context(), httpmw.UserID(c), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, detail)
}

// GetStatus handles GET /api/submissions/:id/status.
func (ctl *Controller) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	view, err := ctl.service.GetStatus(c.Request.Context(), httpmw.UserID(c), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Retract handles DELETE /api/submissions/:id.
func (ctl *Controller) Retract(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	if err := ctl.service.Retract(c.Request.Context(), httpmw.UserID(c), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"submission_id": submissionID, "retracted": true})
}

// List handles GET /api/submissions.
func (ctl *Controller) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := ctl.service.List(c.Request.Context(), httpmw.UserID(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"submissions": items})
}

// Languages handles GET /api/languages.
func (ctl *Controller) Languages(c *gin.Context) {
	response.Success(c, gin.H{"languages": ctl.languages.List()})
}
