package controller

import (
	"paper_test_backend/internal/service"
	"paper_test_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type TaskController struct {
	TaskService *service.TaskService
}

func NewTaskController(taskService *service.TaskService) *TaskController {
	return &TaskController{TaskService: taskService}
}

// ReviewRequest 任务提交批阅
type ReviewRequest struct {
	Feedback string `json:"feedback" example:"Well done"`
}

// CreateTask godoc
// @Summary 创建任务
// @Description 附件可选（PDF、图片或视频），创建后再上传
// @Tags 任务
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param   title formData string true "标题"
// @Param   description formData string false "说明"
// @Param   dueDate formData string true "截止时间 RFC3339"
// @Param   file formData file false "附件"
// @Success 201 {object} util.Response{data=model.Task}
// @Failure 400 {object} util.Response
// @Router /api/teacher/tasks [post]
func (ctrl *TaskController) CreateTask(c *gin.Context) {
	var req service.CreateTaskRequest
	if err := c.ShouldBind(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}
	file, closeFile, err := formUpload(c, "file")
	if err != nil {
		util.BadRequest(c, err.Error())
		return
	}
	defer closeFile()

	task, err := ctrl.TaskService.CreateTask(c.Request.Context(), currentPrincipal(c), req, file)
	if err != nil {
		respondError(c, err)
		return
	}
	util.Created(c, task)
}

// ListTasks godoc
// @Summary 任务列表
// @Tags 任务
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.Task}
// @Router /api/tasks [get]
func (ctrl *TaskController) ListTasks(c *gin.Context) {
	tasks, err := ctrl.TaskService.ListTasks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, tasks)
}

// GetTask godoc
// @Summary 任务详情
// @Tags 任务
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "任务ID"
// @Success 200 {object} util.Response{data=model.Task}
// @Failure 404 {object} util.Response
// @Router /api/tasks/{id} [get]
func (ctrl *TaskController) GetTask(c *gin.Context) {
	task, err := ctrl.TaskService.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, task)
}

// DeleteTask godoc
// @Summary 删除任务
// @Description 同时删除全部任务提交
// @Tags 任务
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "任务ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/tasks/{id} [delete]
func (ctrl *TaskController) DeleteTask(c *gin.Context) {
	if err := ctrl.TaskService.DeleteTask(c.Request.Context(), currentPrincipal(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, gin.H{"id": c.Param("id")})
}

// SubmitTask godoc
// @Summary 提交任务
// @Description 学生上传图片或视频作为完成凭证，每个任务只能提交一次
// @Tags 任务
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "任务ID"
// @Param   file formData file true "图片或视频"
// @Success 201 {object} util.Response{data=model.TaskSubmission}
// @Failure 400 {object} util.Response "文件类型错误或视频过长"
// @Failure 409 {object} util.Response "已提交"
// @Router /api/tasks/{id}/submit [post]
func (ctrl *TaskController) SubmitTask(c *gin.Context) {
	file, closeFile, err := formUpload(c, "file")
	if err != nil {
		util.BadRequest(c, err.Error())
		return
	}
	defer closeFile()

	sub, err := ctrl.TaskService.SubmitTask(c.Request.Context(), currentPrincipal(c), c.Param("id"), file)
	if err != nil {
		respondError(c, err)
		return
	}
	util.Created(c, sub)
}

// ListSubmissions godoc
// @Summary 任务的全部提交
// @Tags 任务
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "任务ID"
// @Success 200 {object} util.Response{data=[]model.TaskSubmission}
// @Router /api/teacher/tasks/{id}/submissions [get]
func (ctrl *TaskController) ListSubmissions(c *gin.Context) {
	subs, err := ctrl.TaskService.ListSubmissions(c.Request.Context(), currentPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, subs)
}

// ReviewSubmission godoc
// @Summary 批阅任务提交
// @Tags 任务
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "任务提交ID"
// @Param   body body ReviewRequest true "评语"
// @Success 200 {object} util.Response{data=model.TaskSubmission}
// @Router /api/teacher/task-submissions/{id}/review [post]
func (ctrl *TaskController) ReviewSubmission(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	sub, err := ctrl.TaskService.ReviewSubmission(c.Request.Context(), currentPrincipal(c), c.Param("id"), req.Feedback)
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, sub)
}

// ListMySubmissions godoc
// @Summary 我的任务提交
// @Tags 任务
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.TaskSubmission}
// @Router /api/task-submissions/mine [get]
func (ctrl *TaskController) ListMySubmissions(c *gin.Context) {
	subs, err := ctrl.TaskService.ListMySubmissions(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, subs)
}
