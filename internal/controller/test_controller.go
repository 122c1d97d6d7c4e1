package controller

import (
	"paper_test_backend/internal/service"
	"paper_test_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type TestController struct {
	TestService *service.TestService
}

func NewTestController(testService *service.TestService) *TestController {
	return &TestController{TestService: testService}
}

// CreateTest godoc
// @Summary 创建试卷
// @Description 教师创建试卷，试卷 PDF 通过单独接口上传
// @Tags 试卷
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.CreateTestRequest true "试卷信息"
// @Success 201 {object} util.Response{data=model.Test}
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 403 {object} util.Response "仅教师可用"
// @Router /api/teacher/tests [post]
func (ctrl *TestController) CreateTest(c *gin.Context) {
	var req service.CreateTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	test, err := ctrl.TestService.CreateTest(c.Request.Context(), currentPrincipal(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	util.Created(c, test)
}

// UploadTestFile godoc
// @Summary 上传试卷 PDF
// @Description 仅接受 PDF，最大 10MB；重复上传会替换旧文件
// @Tags 试卷
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "试卷ID"
// @Param   file formData file true "PDF 文件"
// @Success 200 {object} util.Response{data=model.Test}
// @Failure 400 {object} util.Response "文件类型错误"
// @Failure 413 {object} util.Response "文件过大"
// @Router /api/teacher/tests/{id}/file [post]
func (ctrl *TestController) UploadTestFile(c *gin.Context) {
	file, closeFile, err := formUpload(c, "file")
	if err != nil {
		util.BadRequest(c, err.Error())
		return
	}
	defer closeFile()
	if file == nil {
		respondError(c, util.ErrAttachmentRequired)
		return
	}

	test, err := ctrl.TestService.UploadTestFile(c.Request.Context(), currentPrincipal(c), c.Param("id"), file)
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, test)
}

// ListTests godoc
// @Summary 试卷列表
// @Tags 试卷
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.Test}
// @Router /api/tests [get]
func (ctrl *TestController) ListTests(c *gin.Context) {
	tests, err := ctrl.TestService.ListTests(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, tests)
}

// GetTest godoc
// @Summary 试卷详情
// @Description 未上传文件的试卷 pdfUrl 为占位地址
// @Tags 试卷
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "试卷ID"
// @Success 200 {object} util.Response{data=model.Test}
// @Failure 404 {object} util.Response
// @Router /api/tests/{id} [get]
func (ctrl *TestController) GetTest(c *gin.Context) {
	test, err := ctrl.TestService.GetTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, test)
}

// DeleteTest godoc
// @Summary 删除试卷
// @Description 同时删除全部提交记录与答题图片
// @Tags 试卷
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "试卷ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/teacher/tests/{id} [delete]
func (ctrl *TestController) DeleteTest(c *gin.Context) {
	if err := ctrl.TestService.DeleteTest(c.Request.Context(), currentPrincipal(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, gin.H{"id": c.Param("id")})
}
