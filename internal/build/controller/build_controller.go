// Package controller exposes the build service over HTTP.
package controller

import (
	"net/http"
	"strings"

	"contractlab/internal/build/model"
	"contractlab/internal/build/service"
	"contractlab/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// BuildController handles compile, test and project endpoints.
type BuildController struct {
	svc *service.Service
}

// NewBuildController creates a new BuildController.
func NewBuildController(svc *service.Service) *BuildController {
	return &BuildController{svc: svc}
}

// RegisterRoutes mounts every endpoint on router.
func RegisterRoutes(router gin.IRouter, h *BuildController) {
	router.GET("/healthz", h.Health)

	api := router.Group("/api/v1")
	api.POST("/compile", h.Compile)
	api.POST("/test", h.Test)

	projects := api.Group("/projects/:course")
	projects.POST("/build", h.BuildProject)
	projects.POST("/test", h.TestProject)
	projects.POST("/dependencies", h.InstallDependencies)
	projects.PUT("/config", h.UpdateConfig)
	projects.GET("/status", h.GetStatus)
	projects.DELETE("", h.DeleteProject)
}

// Health reports liveness.
func (h *BuildController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Compile builds one contract.
func (h *BuildController) Compile(c *gin.Context) {
	var req model.CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	req.UserID = userID(c)
	resp, err := h.svc.Compile(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// Test runs a test file against a solution.
func (h *BuildController) Test(c *gin.Context) {
	var req model.TestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	req.UserID = userID(c)
	resp, err := h.svc.Test(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *BuildController) BuildProject(c *gin.Context) {
	var req model.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.svc.BuildProject(c.Request.Context(), ownerKey(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (h *BuildController) TestProject(c *gin.Context) {
	var req model.TestRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.svc.TestProject(c.Request.Context(), ownerKey(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (h *BuildController) InstallDependencies(c *gin.Context) {
	var req model.DependencyInstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	report, err := h.svc.InstallDependencies(c.Request.Context(), ownerKey(c), req.Dependencies)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

func (h *BuildController) UpdateConfig(c *gin.Context) {
	var req model.ConfigUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if err := h.svc.UpdateConfig(c.Request.Context(), ownerKey(c), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *BuildController) GetStatus(c *gin.Context) {
	st, err := h.svc.GetStatus(c.Request.Context(), ownerKey(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, st)
}

func (h *BuildController) DeleteProject(c *gin.Context) {
	if err := h.svc.DeleteProject(c.Request.Context(), ownerKey(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// userID prefers the userId query parameter over the X-User-Id header.
func userID(c *gin.Context) string {
	if id := strings.TrimSpace(c.Query("userId")); id != "" {
		return id
	}
	return c.GetString("user_id")
}

func ownerKey(c *gin.Context) model.OwnerKey {
	return model.OwnerKey{UserID: userID(c), CourseID: c.Param("course")}.Normalize()
}
