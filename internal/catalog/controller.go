package catalog

import (
	"strconv"

	"skillsnap/pkg/errors"
	"skillsnap/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

type Controller struct {
	service *Service
}

func NewController(service *Service) *Controller {
	return &Controller{service: service}
}

func (ctl *Controller) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/problems", ctl.List)
	group.GET("/problems/:id", ctl.Get)
}

// List handles GET /api/problems.
func (ctl *Controller) List(c *gin.Context) {
	summaries, err := ctl.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"problems": summaries})
}

// Get handles GET /api/problems/:id.
func (ctl *Controller) Get(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errors.New(errors.InvalidParams).WithMessage("invalid problem id"))
		return
	}
	view, err := ctl.service.GetView(c.Request.Context(), problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}
