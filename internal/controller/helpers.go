package controller

import (
	"errors"
	"net/http"

	"paper_test_backend/internal/service"
	"paper_test_backend/internal/session"
	"paper_test_backend/internal/util"
	"paper_test_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// respondError 将服务层错误映射为 HTTP 状态
func respondError(c *gin.Context, err error) {
	var (
		invalid      validator.ValidationErrors
		precondition *session.PreconditionError
		persistence  *session.PersistenceError
	)

	switch {
	case errors.As(err, &invalid):
		util.BadRequest(c, invalid.Error())
	case errors.Is(err, util.ErrInvalidCredentials):
		util.Error(c, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, util.ErrPermissionDenied), errors.Is(err, util.ErrSessionNotOwned):
		util.Forbidden(c)
	case errors.Is(err, util.ErrRegistrationClosed):
		util.Error(c, http.StatusForbidden, err.Error())
	case errors.Is(err, util.ErrTestNotFound),
		errors.Is(err, util.ErrTaskNotFound),
		errors.Is(err, util.ErrSubmissionNotFound),
		errors.Is(err, util.ErrTaskSubmissionGone),
		errors.Is(err, util.ErrSessionNotFound),
		errors.Is(err, util.ErrUserNotFound):
		util.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, util.ErrAlreadySubmitted), errors.Is(err, util.ErrEmailRegistered):
		util.Conflict(c, err.Error())
	case errors.Is(err, util.ErrFileTooLarge):
		util.Error(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, util.ErrInvalidScore),
		errors.Is(err, util.ErrInvalidFileType),
		errors.Is(err, util.ErrAttachmentRequired),
		errors.Is(err, util.ErrVideoTooLong),
		errors.Is(err, util.ErrDocumentMissing):
		util.BadRequest(c, err.Error())
	case errors.As(err, &precondition):
		util.Conflict(c, precondition.Error())
	case errors.As(err, &persistence):
		// 会话已回到可交卷状态，客户端可重试
		logger.Log.Error("submission not persisted", zap.Error(err), zap.String("path", c.FullPath()))
		util.Error(c, http.StatusServiceUnavailable, "Submission could not be saved, please try again")
	default:
		util.LogInternalError(c, err)
	}
}

// formUpload 读取 multipart 文件字段；字段不存在时返回 nil
func formUpload(c *gin.Context, field string) (*service.FileUpload, func(), error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, func() {}, nil
		}
		return nil, func() {}, err
	}
	f, err := header.Open()
	if err != nil {
		return nil, func() {}, err
	}
	return &service.FileUpload{Reader: f, Size: header.Size, Filename: header.Filename}, func() { f.Close() }, nil
}

// currentPrincipal 由 AuthMiddleware 写入的身份
func currentPrincipal(c *gin.Context) util.Principal {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		return util.Principal{}
	}
	return claims.Principal()
}
