package handler

import (
	"net/http"
	"strconv"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/service"
)

const (
	// OperatorHeader carries the id of the acting user.
	OperatorHeader = "X-Operator-ID"
	// RequestIDHeader is echoed back on every response.
	RequestIDHeader = "X-Request-ID"
)

// PermissionChecker decides what an operator may do inside a project.
// CanEdit covers authoring (modules, cases, steps, submit); CanManage covers
// reviewing and the administrative transitions.
type PermissionChecker interface {
	CanEdit(operatorID, projectID uint) bool
	CanManage(operatorID, projectID uint) bool
}

// AllowAll grants every permission.
type AllowAll struct{}

func (AllowAll) CanEdit(uint, uint) bool { return true }
func (AllowAll) CanManage(uint, uint) bool { return true }

// AssetHandler HTTP处理器
type AssetHandler struct {
	service service.AssetService
	perms   PermissionChecker
}

// NewAssetHandler 创建处理器. A nil checker allows everything.
func NewAssetHandler(svc service.AssetService, perms PermissionChecker) *AssetHandler {
	if perms == nil {
		perms = AllowAll{}
	}
	return &AssetHandler{service: svc, perms: perms}
}

// RegisterRoutes 注册路由
func (h *AssetHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// Modules
		api.POST("/modules", h.CreateModule)
		api.GET("/modules/:id", h.GetModule)
		api.PUT("/modules/:id", h.RenameModule)
		api.POST("/modules/:id/move", h.MoveModule)
		api.POST("/modules/:id/reorder", h.ReorderModule)
		api.DELETE("/modules/:id", h.DeleteModule)
		api.GET("/modules/:id/descendants", h.GetDescendants)
		api.GET("/modules/:id/case-count", h.CountTestCases)
		api.GET("/modules/:id/cases", h.ListTestCases)
		api.GET("/projects/:projectId/modules/tree", h.GetModuleTree)

		// Test cases
		api.POST("/cases", h.CreateTestCase)
		api.GET("/cases/:id", h.GetTestCase)
		api.GET("/cases/by-case-id/:caseId", h.GetTestCaseByCaseID)
		api.PUT("/cases/:id", h.UpdateTestCase)
		api.DELETE("/cases/:id", h.DeleteTestCase)
		api.POST("/cases/:id/move", h.MoveTestCase)
		api.POST("/cases/:id/reorder", h.ReorderTestCase)

		// Review workflow
		api.POST("/cases/:id/transitions/:action", h.Transition)
		api.GET("/cases/:id/reviews", h.ReviewHistory)
		api.GET("/cases/:id/executable", h.CheckExecutable)

		// Steps
		api.GET("/cases/:id/steps", h.ListSteps)
		api.POST("/cases/:id/steps", h.AddStep)
		api.PUT("/cases/:id/steps/:stepId", h.UpdateStep)
		api.POST("/cases/:id/steps/:stepId/move", h.MoveStep)
		api.DELETE("/cases/:id/steps/:stepId", h.RemoveStep)
	}
}

// RequestID tags each request with an id, reusing the caller's if present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// statusOf maps business error kinds to HTTP status codes.
func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindInvalidOperation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *AssetHandler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}
	if e, ok := apperr.As(err); ok {
		body["kind"] = e.Kind.String()
		if e.Current != "" {
			body["current"] = e.Current
			body["target"] = e.Target
		}
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"request": c.GetString("requestId"),
		}).Error("request failed")
		body = gin.H{"error": "internal error"}
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// idParam parses a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// operator reads the acting user from the request header.
func operator(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.GetHeader(OperatorHeader), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + OperatorHeader})
		return 0, false
	}
	return uint(id), true
}

// authorize resolves the operator and checks the predicate for projectID.
func (h *AssetHandler) authorize(c *gin.Context, projectID uint, manage bool) (uint, bool) {
	operatorID, ok := operator(c)
	if !ok {
		return 0, false
	}
	allowed := h.perms.CanEdit(operatorID, projectID)
	if manage {
		allowed = h.perms.CanManage(operatorID, projectID)
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "operation not permitted"})
		return 0, false
	}
	return operatorID, true
}

// ===== Module Handlers =====

type renameModuleRequest struct {
	Name string `json:"name" binding:"required"`
}

type moveModuleRequest struct {
	ParentID *uint `json:"parentId"`
}

type reorderRequest struct {
	SortOrder int `json:"sortOrder"`
}

// moduleForEdit loads the module named by :id and authorizes an edit on its project.
func (h *AssetHandler) moduleForEdit(c *gin.Context) (uint, uint, bool) {
	id, ok := idParam(c, "id")
	if !ok {
		return 0, 0, false
	}
	module, err := h.service.GetModule(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return 0, 0, false
	}
	operatorID, ok := h.authorize(c, module.ProjectID, false)
	return id, operatorID, ok
}

func (h *AssetHandler) CreateModule(c *gin.Context) {
	var req service.CreateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	operatorID, ok := h.authorize(c, req.ProjectID, false)
	if !ok {
		return
	}

	module, err := h.service.CreateModule(c.Request.Context(), &req, operatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, module)
}

func (h *AssetHandler) GetModule(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	module, err := h.service.GetModule(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

func (h *AssetHandler) RenameModule(c *gin.Context) {
	id, operatorID, ok := h.moduleForEdit(c)
	if !ok {
		return
	}
	var req renameModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	module, err := h.service.RenameModule(c.Request.Context(), id, req.Name, operatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

func (h *AssetHandler) MoveModule(c *gin.Context) {
	id, operatorID, ok := h.moduleForEdit(c)
	if !ok {
		return
	}
	var req moveModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	module, err := h.service.MoveModule(c.Request.Context(), id, req.ParentID, operatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

func (h *AssetHandler) ReorderModule(c *gin.Context) {
	id, operatorID, ok := h.moduleForEdit(c)
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	module, err := h.service.ReorderModule(c.Request.Context(), id, req.SortOrder, operatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

func (h *AssetHandler) DeleteModule(c *gin.Context) {
	id, operatorID, ok := h.moduleForEdit(c)
	if !ok {
		return
	}
	if err := h.service.DeleteModule(c.Request.Context(), id, operatorID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "module deleted"})
}

func (h *AssetHandler) GetModuleTree(c *gin.Context) {
	projectID, ok := idParam(c, "projectId")
	if !ok {
		return
	}
	tree, err := h.service.GetModuleTree(c.Request.Context(), projectID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (h *AssetHandler) GetDescendants(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	modules, err := h.service.GetDescendants(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": modules, "total": len(modules)})
}

func (h *AssetHandler) CountTestCases(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	count, err := h.service.CountTestCases(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moduleId": id, "count": count})
}
