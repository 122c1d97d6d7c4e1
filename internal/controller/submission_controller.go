package controller

import (
	"paper_test_backend/internal/service"
	"paper_test_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type SubmissionController struct {
	SubmissionService *service.SubmissionService
}

func NewSubmissionController(submissionService *service.SubmissionService) *SubmissionController {
	return &SubmissionController{SubmissionService: submissionService}
}

// ListByTest godoc
// @Summary 试卷的全部提交
// @Tags 批改
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "试卷ID"
// @Success 200 {object} util.Response{data=[]model.Submission}
// @Router /api/teacher/tests/{id}/submissions [get]
func (ctrl *SubmissionController) ListByTest(c *gin.Context) {
	subs, err := ctrl.SubmissionService.ListByTest(c.Request.Context(), currentPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, subs)
}

// GetSubmission godoc
// @Summary 提交详情
// @Description 答题图片按题号升序
// @Tags 批改
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "提交ID"
// @Success 200 {object} util.Response{data=model.Submission}
// @Failure 404 {object} util.Response
// @Router /api/teacher/submissions/{id} [get]
func (ctrl *SubmissionController) GetSubmission(c *gin.Context) {
	sub, err := ctrl.SubmissionService.Get(c.Request.Context(), currentPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, sub)
}

// GradeSubmission godoc
// @Summary 评分
// @Description 分数须为非负数；重复评分覆盖之前的结果
// @Tags 批改
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "提交ID"
// @Param   body body service.GradeRequest true "分数与评语"
// @Success 200 {object} util.Response{data=model.Submission}
// @Failure 400 {object} util.Response "分数无效"
// @Router /api/teacher/submissions/{id}/grade [post]
func (ctrl *SubmissionController) GradeSubmission(c *gin.Context) {
	var req service.GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	sub, err := ctrl.SubmissionService.Grade(c.Request.Context(), currentPrincipal(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, sub)
}

// ListMine godoc
// @Summary 我的提交
// @Tags 批改
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.Submission}
// @Router /api/submissions/mine [get]
func (ctrl *SubmissionController) ListMine(c *gin.Context) {
	subs, err := ctrl.SubmissionService.ListMine(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, subs)
}

// DeleteSubmission godoc
// @Summary 删除提交
// @Description 学生从历史中移除自己的提交，教师也可删除
// @Tags 批改
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "提交ID"
// @Success 200 {object} util.Response
// @Failure 403 {object} util.Response
// @Router /api/submissions/{id} [delete]
func (ctrl *SubmissionController) DeleteSubmission(c *gin.Context) {
	if err := ctrl.SubmissionService.Delete(c.Request.Context(), currentPrincipal(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, gin.H{"id": c.Param("id")})
}
