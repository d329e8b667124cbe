package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"test-asset-service/internal/lifecycle"
	"test-asset-service/internal/models"
	"test-asset-service/internal/service"
	"test-asset-service/internal/steps"
)

type moveCaseRequest struct {
	ModuleID uint `json:"moduleId" binding:"required"`
}

type transitionRequest struct {
	Comment string `json:"comment"`
}

type addStepRequest struct {
	steps.StepInput
	// Position inserts at a 1-based order; zero appends.
	Position int `json:"position"`
}

type moveStepRequest struct {
	Order int `json:"order" binding:"required"`
}

// authoring transitions need edit rights, the rest are review or admin actions
var authoring = map[lifecycle.Action]bool{
	lifecycle.ActionSubmit:   true,
	lifecycle.ActionResubmit: true,
}

// caseForEdit loads the case named by :id and authorizes the operator on its project.
func (h *AssetHandler) caseForEdit(c *gin.Context, manage bool) (*models.TestCase, uint, bool) {
	id, ok := idParam(c, "id")
	if !ok {
		return nil, 0, false
	}
	tc, err := h.service.GetTestCase(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return nil, 0, false
	}
	operatorID, ok := h.authorize(c, tc.ProjectID, manage)
	if !ok {
		return nil, 0, false
	}
	return tc, operatorID, true
}

// ===== Test Case Handlers =====

func (h *AssetHandler) CreateTestCase(c *gin.Context) {
	var req service.CreateTestCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	operatorID, ok := h.authorize(c, req.ProjectID, false)
	if !ok {
		return
	}

	tc, err := h.service.CreateTestCase(c.Request.Context(), &req, operatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tc)
}

func (h *AssetHandler) GetTestCase(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	tc, err := h.service.GetTestCase(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tc)
}

func (h *AssetHandler) GetTestCaseByCaseID(c *gin.Context) {
	tc, err := h.service.GetTestCaseByCaseID(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tc)
}

func (h *AssetHandler) ListTestCases(c *gin.Context) {
	moduleID, ok := idParam(c, "id")
	if !ok {
		return
	}
	cases, err := h.service.ListTestCases(c.Request.Context(), moduleID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cases, "total": len(cases)})
}

func (h *AssetHandler) UpdateTestCase(c *gin.Context) {
	tc, operatorID, ok := h.caseForEdit(c, false)
	if !ok {
		return
	}
	var req service.UpdateTestCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	updated, err := h.service.UpdateTestCase(c.Request.Context(), tc.ID, &req, operatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *AssetHandler) DeleteTestCase(c *gin.Context) {
	tc, operatorID, ok := h.caseForEdit(c, false)
	if !ok {
		return
	}
	if err := h.service.DeleteTestCase(c.Request.Context(), tc.ID, operatorID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "test case deleted"})
}

func (h *AssetHandler) MoveTestCase(c *gin.Context) {
	tc, operatorID, ok := h.caseForEdit(c, false)
	if !ok {
		return
	}
	var req moveCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	moved, err := h.service.MoveTestCase(c.Request.Context(), tc.ID, req.ModuleID, operatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, moved)
}

func (h *AssetHandler) ReorderTestCase(c *gin.Context) {
	tc, operatorID, ok := h.caseForEdit(c, false)
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	reordered, err := h.service.ReorderTestCase(c.Request.Context(), tc.ID, req.SortOrder, operatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reordered)
}

// ===== Review Workflow Handlers =====

func (h *AssetHandler) Transition(c *gin.Context) {
	action := lifecycle.Action(c.Param("action"))
	tc, operatorID, ok := h.caseForEdit(c, !authoring[action])
	if !ok {
		return
	}
	var req transitionRequest
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	updated, err := h.service.Transition(c.Request.Context(), tc.ID, action, lifecycle.Input{
		OperatorID: operatorID,
		Comment:    req.Comment,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *AssetHandler) ReviewHistory(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	records, err := h.service.ReviewHistory(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "total": len(records)})
}

func (h *AssetHandler) CheckExecutable(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	tc, err := h.service.CheckExecutable(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"caseId": tc.CaseID, "status": tc.Status, "executable": true})
}

// ===== Step Handlers =====

// stepForEdit authorizes an edit of :id and checks :stepId belongs to it.
func (h *AssetHandler) stepForEdit(c *gin.Context) (uint, uint, bool) {
	tc, operatorID, ok := h.caseForEdit(c, false)
	if !ok {
		return 0, 0, false
	}
	stepID, ok := idParam(c, "stepId")
	if !ok {
		return 0, 0, false
	}
	step, err := h.service.GetStep(c.Request.Context(), stepID)
	if err != nil {
		h.fail(c, err)
		return 0, 0, false
	}
	if step.TestCaseID != tc.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "test step not found in this case"})
		return 0, 0, false
	}
	return stepID, operatorID, true
}

func (h *AssetHandler) ListSteps(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	list, err := h.service.ListSteps(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}

func (h *AssetHandler) AddStep(c *gin.Context) {
	tc, operatorID, ok := h.caseForEdit(c, false)
	if !ok {
		return
	}
	var req addStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var (
		step *models.TestStep
		err  error
	)
	if req.Position != 0 {
		step, err = h.service.InsertStep(c.Request.Context(), tc.ID, req.Position, req.StepInput, operatorID)
	} else {
		step, err = h.service.AppendStep(c.Request.Context(), tc.ID, req.StepInput, operatorID)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, step)
}

func (h *AssetHandler) UpdateStep(c *gin.Context) {
	stepID, operatorID, ok := h.stepForEdit(c)
	if !ok {
		return
	}
	var req steps.StepInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	step, err := h.service.UpdateStep(c.Request.Context(), stepID, req, operatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

func (h *AssetHandler) MoveStep(c *gin.Context) {
	stepID, operatorID, ok := h.stepForEdit(c)
	if !ok {
		return
	}
	var req moveStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	step, err := h.service.MoveStep(c.Request.Context(), stepID, req.Order, operatorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

func (h *AssetHandler) RemoveStep(c *gin.Context) {
	stepID, operatorID, ok := h.stepForEdit(c)
	if !ok {
		return
	}
	if err := h.service.RemoveStep(c.Request.Context(), stepID, operatorID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "test step removed"})
}
