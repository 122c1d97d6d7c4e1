package controller

import (
	"net/http"

	"paper_test_backend/internal/session"
	"paper_test_backend/internal/util"
	"paper_test_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionController struct {
	Manager *session.Manager
	Hub     *session.Hub
}

func NewSessionController(manager *session.Manager, hub *session.Hub) *SessionController {
	return &SessionController{Manager: manager, Hub: hub}
}

type StartSessionRequest struct {
	TestID string `json:"testId" binding:"required" example:"8f14e45f-ceea-467f-a8f5-3c2b7c5e9d11"`
}

type FinishSessionRequest struct {
	Confirmed bool `json:"confirmed"`
}

type GoToPageRequest struct {
	Page int `json:"page" binding:"required,min=1"`
}

// FinishResponse 交卷结果；failedQuestions 非空时为部分成功
type FinishResponse struct {
	Session session.View        `json:"session"`
	Result  *session.ResultView `json:"result"`
}

func (ctrl *SessionController) session(c *gin.Context) (*session.Session, bool) {
	s, err := ctrl.Manager.Get(currentPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}

// Start godoc
// @Summary 开始答题
// @Description 创建答题会话并开始倒计时，后台加载试卷；已有未结束的会话时直接返回该会话
// @Tags 答题
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body StartSessionRequest true "试卷"
// @Success 201 {object} util.Response{data=session.View}
// @Failure 404 {object} util.Response "试卷不存在"
// @Failure 409 {object} util.Response "已提交过"
// @Router /api/sessions [post]
func (ctrl *SessionController) Start(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	s, err := ctrl.Manager.Start(c.Request.Context(), currentPrincipal(c), req.TestID)
	if err != nil {
		respondError(c, err)
		return
	}
	util.Created(c, s.View())
}

// Get godoc
// @Summary 会话状态
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.View}
// @Router /api/sessions/{id} [get]
func (ctrl *SessionController) Get(c *gin.Context) {
	s, ok := ctrl.session(c)
	if !ok {
		return
	}
	util.Success(c, s.View())
}

// SetAnswer godoc
// @Summary 上传某题答案
// @Description 仅暂存在服务器本地，交卷时才上传；同一题重复上传会替换旧图片
// @Tags 答题
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Param   q path int true "题号"
// @Param   file formData file true "答题图片"
// @Success 200 {object} util.Response{data=session.CapturedFile}
// @Failure 409 {object} util.Response "会话不在答题中"
// @Failure 413 {object} util.Response
// @Router /api/sessions/{id}/answers/{q} [put]
func (ctrl *SessionController) SetAnswer(c *gin.Context) {
	q, err := util.ParsePositiveInt(c.Param("q"))
	if err != nil {
		util.BadRequest(c, err.Error())
		return
	}
	s, ok := ctrl.session(c)
	if !ok {
		return
	}

	file, closeFile, err := formUpload(c, "file")
	if err != nil {
		util.BadRequest(c, err.Error())
		return
	}
	defer closeFile()
	if file == nil {
		util.BadRequest(c, "file is required")
		return
	}

	captured, err := s.SetAnswer(q, file.Filename, file.Reader)
	if err != nil {
		logger.Log.Debug("answer rejected",
			zap.String("sessionId", s.ID),
			zap.Int("question", q),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}
	util.Success(c, captured)
}

// ListAnswers godoc
// @Summary 已暂存的答案
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response{data=[]session.CapturedFile}
// @Router /api/sessions/{id}/answers [get]
func (ctrl *SessionController) ListAnswers(c *gin.Context) {
	s, ok := ctrl.session(c)
	if !ok {
		return
	}
	util.Success(c, s.Answers())
}

// Preview godoc
// @Summary 预览某题答案
// @Tags 答题
// @Produce  image/png,image/jpeg
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Param   q path int true "题号"
// @Success 200 {file} binary
// @Router /api/sessions/{id}/answers/{q}/preview [get]
func (ctrl *SessionController) Preview(c *gin.Context) {
	q, err := util.ParsePositiveInt(c.Param("q"))
	if err != nil {
		util.BadRequest(c, err.Error())
		return
	}
	s, ok := ctrl.session(c)
	if !ok {
		return
	}

	f, captured, err := s.OpenPreview(q)
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, captured.Size, captured.ContentType, f, nil)
}

// Document godoc
// @Summary 试卷加载状态
// @Description 加载失败并用尽自动重试后 state 为 fallback_shown，url 可在新窗口打开
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.DocumentSnapshot}
// @Router /api/sessions/{id}/document [get]
func (ctrl *SessionController) Document(c *gin.Context) {
	s, ok := ctrl.session(c)
	if !ok {
		return
	}
	util.Success(c, s.Document().Snapshot())
}

// NextPage godoc
// @Summary 下一页
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.DocumentSnapshot}
// @Router /api/sessions/{id}/document/next [post]
func (ctrl *SessionController) NextPage(c *gin.Context) {
	ctrl.navigate(c, func(l *session.DocumentLoader) bool { return l.NextPage() })
}

// PrevPage godoc
// @Summary 上一页
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.DocumentSnapshot}
// @Router /api/sessions/{id}/document/prev [post]
func (ctrl *SessionController) PrevPage(c *gin.Context) {
	ctrl.navigate(c, func(l *session.DocumentLoader) bool { return l.PrevPage() })
}

// GoToPage godoc
// @Summary 跳转到指定页
// @Description 页码超出范围时不跳转，返回当前状态
// @Tags 答题
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Param   body body GoToPageRequest true "页码"
// @Success 200 {object} util.Response{data=session.DocumentSnapshot}
// @Router /api/sessions/{id}/document/page [post]
func (ctrl *SessionController) GoToPage(c *gin.Context) {
	var req GoToPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}
	ctrl.navigate(c, func(l *session.DocumentLoader) bool { return l.GoToPage(req.Page) })
}

func (ctrl *SessionController) navigate(c *gin.Context, move func(*session.DocumentLoader) bool) {
	s, ok := ctrl.session(c)
	if !ok {
		return
	}
	if s.Document().State() != session.DocumentLoaded {
		util.Conflict(c, "document is not loaded")
		return
	}
	move(s.Document())
	util.Success(c, s.Document().Snapshot())
}

// RetryDocument godoc
// @Summary 手动重新加载试卷
// @Description 仅在 fallback_shown 或 failed 状态下有效，重置自动重试计数；立即返回 loading 快照，结果通过 WebSocket 推送
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response{data=session.DocumentSnapshot}
// @Failure 409 {object} util.Response
// @Router /api/sessions/{id}/document/retry [post]
func (ctrl *SessionController) RetryDocument(c *gin.Context) {
	s, ok := ctrl.session(c)
	if !ok {
		return
	}
	snap, err := s.Document().ManualRetry()
	if err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, snap)
}

// Finish godoc
// @Summary 交卷
// @Description 手动交卷需 confirmed=true；部分题目上传失败时返回 202 与失败题号
// @Tags 答题
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Param   body body FinishSessionRequest true "确认"
// @Success 200 {object} util.Response{data=FinishResponse}
// @Success 202 {object} util.Response{data=FinishResponse} "部分上传失败"
// @Failure 409 {object} util.Response "未确认或状态不允许"
// @Failure 503 {object} util.Response "提交记录未能保存，可重试"
// @Router /api/sessions/{id}/finish [post]
func (ctrl *SessionController) Finish(c *gin.Context) {
	var req FinishSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	p := currentPrincipal(c)
	id := c.Param("id")
	result, err := ctrl.Manager.Finish(c.Request.Context(), p, id, req.Confirmed)
	if err != nil {
		respondError(c, err)
		return
	}

	s, err := ctrl.Manager.Get(p, id)
	if err != nil {
		respondError(c, err)
		return
	}
	view := s.View()
	resp := FinishResponse{Session: view, Result: view.Result}
	if resp.Result == nil {
		resp.Result = &session.ResultView{SubmissionID: result.SubmissionID, Trigger: result.Trigger, Answers: result.Answers, FailedQuestions: result.FailedQuestions()}
	}
	if result.Partial() {
		util.Accepted(c, "Some answers failed to upload", resp)
		return
	}
	util.Success(c, resp)
}

// Abandon godoc
// @Summary 放弃答题
// @Description 删除暂存的答案，不创建任何提交记录
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response
// @Router /api/sessions/{id} [delete]
func (ctrl *SessionController) Abandon(c *gin.Context) {
	if err := ctrl.Manager.Abandon(currentPrincipal(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.Success(c, gin.H{"id": c.Param("id")})
}

// WS godoc
// @Summary 订阅会话事件
// @Description WebSocket，推送 snapshot/tick/expired/finished/document 等事件；浏览器可通过 ?token= 传递令牌
// @Tags 答题
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Router /api/sessions/{id}/ws [get]
func (ctrl *SessionController) WS(c *gin.Context) {
	s, ok := ctrl.session(c)
	if !ok {
		return
	}
	ctrl.Hub.ServeWS(c.Writer, c.Request, s.ID, s.SnapshotEvent)
}
