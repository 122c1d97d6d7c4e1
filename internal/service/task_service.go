package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"paper_test_backend/internal/model"
	"paper_test_backend/internal/repository"
	"paper_test_backend/internal/util"
	"paper_test_backend/pkg/logger"

	"go.uber.org/zap"
)

type CreateTaskRequest struct {
	Title       string    `json:"title" form:"title" validate:"required,max=255"`
	Description string    `json:"description" form:"description"`
	DueDate     time.Time `json:"dueDate" form:"dueDate" time_format:"2006-01-02T15:04:05Z07:00" validate:"required"`
}

type TaskService struct {
	TaskRepo        *repository.TaskRepository
	Storage         *StorageService
	MaxVideoSeconds float64
	StagingDir      string
	// Probe 可在测试中替换
	Probe func(path string) (*util.VideoInfo, error)
}

func NewTaskService(taskRepo *repository.TaskRepository, storage *StorageService, maxVideoSeconds float64, stagingDir string) *TaskService {
	return &TaskService{
		TaskRepo:        taskRepo,
		Storage:         storage,
		MaxVideoSeconds: maxVideoSeconds,
		StagingDir:      stagingDir,
		Probe:           util.ProbeVideo,
	}
}

// CreateTask 先创建任务记录，附件上传后再回填地址
func (s *TaskService) CreateTask(ctx context.Context, p util.Principal, req CreateTaskRequest, attachment *FileUpload) (*model.Task, error) {
	if !p.IsTeacher() {
		return nil, util.ErrPermissionDenied
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	var mime string
	hasAttachment := attachment != nil && attachment.Reader != nil
	if hasAttachment {
		var err error
		if mime, err = attachment.sniff(util.MaxTaskAttachmentSize); err != nil {
			return nil, err
		}
		if err := util.CheckMimeType(mime, util.MimePDF, util.MimeImage, util.MimeVideo); err != nil {
			return nil, err
		}
	}

	task := &model.Task{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		CreatedBy:   p.UserID,
		Status:      model.TaskActive,
	}
	if err := s.TaskRepo.Create(ctx, task); err != nil {
		return nil, err
	}

	if hasAttachment {
		key := fmt.Sprintf("%s_%s%s", task.ID, util.RandomKey(), util.FileExt(attachment.Filename, mime))
		url, err := s.Storage.Upload(ctx, util.BucketTaskAttachments, key, attachment.Reader, attachment.Size, mime)
		if err != nil {
			// 任务已创建，附件失败只记录日志
			logger.Log.Error("task attachment upload failed", zap.String("taskId", task.ID), zap.Error(err))
			return task, nil
		}
		objectPath := util.ObjectPath(util.BucketTaskAttachments, key)
		if err := s.TaskRepo.UpdateAttachment(ctx, task.ID, url, objectPath); err != nil {
			logger.Log.Error("task attachment not recorded", zap.String("taskId", task.ID), zap.Error(err))
			removeBlobs(ctx, s.Storage, objectPath)
			return task, nil
		}
		task.AttachmentURL = url
		task.AttachmentKey = objectPath
	}

	logger.Log.Info("task created", zap.String("taskId", task.ID), zap.Uint("teacherId", p.UserID))
	return task, nil
}

func (s *TaskService) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return s.TaskRepo.FindByID(ctx, id)
}

func (s *TaskService) ListTasks(ctx context.Context) ([]model.Task, error) {
	return s.TaskRepo.List(ctx)
}

// SubmitTask 学生提交图片或视频作为完成凭证：先上传，再写记录，写入失败时删除已上传文件
func (s *TaskService) SubmitTask(ctx context.Context, p util.Principal, taskID string, attachment *FileUpload) (*model.TaskSubmission, error) {
	if !p.IsStudent() {
		return nil, util.ErrPermissionDenied
	}
	task, err := s.TaskRepo.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if _, err := s.TaskRepo.FindSubmission(ctx, task.ID, p.UserID); err == nil {
		return nil, util.ErrAlreadySubmitted
	} else if !errors.Is(err, util.ErrTaskSubmissionGone) {
		return nil, err
	}

	mime, err := attachment.sniff(util.MaxTaskAttachmentSize)
	if err != nil {
		return nil, err
	}
	if !util.IsImage(mime) && !util.IsVideo(mime) {
		return nil, fmt.Errorf("%w: %s", util.ErrInvalidFileType, mime)
	}

	if util.IsVideo(mime) {
		if err := s.checkVideo(attachment); err != nil {
			return nil, err
		}
	}

	key := fmt.Sprintf("%s_%d_%s%s", task.ID, p.UserID, util.RandomKey(), util.FileExt(attachment.Filename, mime))
	url, err := s.Storage.Upload(ctx, util.BucketTaskAttachments, key, attachment.Reader, attachment.Size, mime)
	if err != nil {
		return nil, fmt.Errorf("upload task submission: %w", err)
	}

	objectPath := util.ObjectPath(util.BucketTaskAttachments, key)
	sub := &model.TaskSubmission{
		TaskID:        task.ID,
		StudentID:     p.UserID,
		Status:        model.TaskSubmitted,
		AttachmentURL: url,
		AttachmentKey: objectPath,
	}
	if err := s.TaskRepo.CreateSubmission(ctx, sub); err != nil {
		removeBlobs(ctx, s.Storage, objectPath)
		return nil, err
	}

	logger.Log.Info("task submitted",
		zap.String("taskId", task.ID),
		zap.Uint("studentId", p.UserID),
		zap.String("mime", mime),
	)
	return sub, nil
}

// checkVideo ffprobe 需要本地文件，先落盘到暂存目录
func (s *TaskService) checkVideo(attachment *FileUpload) error {
	tmp, err := os.CreateTemp(s.StagingDir, "task-video-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, attachment.Reader)
	tmp.Close()
	if err != nil {
		return err
	}
	if _, err := attachment.Reader.Seek(0, io.SeekStart); err != nil {
		return err
	}

	info, err := s.Probe(tmp.Name())
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrInvalidFileType, err)
	}
	if s.MaxVideoSeconds > 0 && info.Duration > s.MaxVideoSeconds {
		return fmt.Errorf("%w: %.1fs exceeds %.0fs", util.ErrVideoTooLong, info.Duration, s.MaxVideoSeconds)
	}
	return nil
}

func (s *TaskService) ReviewSubmission(ctx context.Context, p util.Principal, submissionID, feedback string) (*model.TaskSubmission, error) {
	if !p.IsTeacher() {
		return nil, util.ErrPermissionDenied
	}
	return s.TaskRepo.Review(ctx, submissionID, feedback)
}

func (s *TaskService) ListSubmissions(ctx context.Context, p util.Principal, taskID string) ([]model.TaskSubmission, error) {
	if !p.IsTeacher() {
		return nil, util.ErrPermissionDenied
	}
	if _, err := s.TaskRepo.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	return s.TaskRepo.ListSubmissionsByTask(ctx, taskID)
}

func (s *TaskService) ListMySubmissions(ctx context.Context, p util.Principal) ([]model.TaskSubmission, error) {
	return s.TaskRepo.ListSubmissionsByStudent(ctx, p.UserID)
}

func (s *TaskService) DeleteTask(ctx context.Context, p util.Principal, id string) error {
	if !p.IsTeacher() {
		return util.ErrPermissionDenied
	}
	_, keys, err := s.TaskRepo.DeleteCascade(ctx, id)
	if err != nil {
		return err
	}
	removeBlobs(ctx, s.Storage, keys...)

	logger.Log.Info("task deleted", zap.String("taskId", id), zap.Int("objects", len(keys)))
	return nil
}

// CompleteOverdue 将已过截止时间的任务标记为完成，由定时任务调用
func (s *TaskService) CompleteOverdue(ctx context.Context) (int64, error) {
	n, err := s.TaskRepo.CompleteOverdue(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Log.Info("overdue tasks completed", zap.Int64("count", n))
	}
	return n, nil
}
