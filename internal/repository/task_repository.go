package repository

import (
	"context"
	"errors"
	"paper_test_backend/internal/model"
	"paper_test_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

type TaskRepository struct {
	DB *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{DB: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	return r.DB.WithContext(ctx).Create(task).Error
}

func (r *TaskRepository) FindByID(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := r.DB.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) List(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	err := r.DB.WithContext(ctx).Order("due_date asc").Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) UpdateAttachment(ctx context.Context, id, url, key string) error {
	res := r.DB.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"attachment_url": url, "attachment_key": key})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrTaskNotFound
	}
	return nil
}

// CompleteOverdue 将截止时间已过的进行中任务标记为完成
func (r *TaskRepository) CompleteOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.Task{}).
		Where("status = ? AND due_date < ?", model.TaskActive, now).
		Update("status", model.TaskCompleted)
	return res.RowsAffected, res.Error
}

// DeleteCascade 单个事务内删除任务及全部学生提交，返回需要清理的存储 key
func (r *TaskRepository) DeleteCascade(ctx context.Context, id string) (*model.Task, []string, error) {
	var (
		task model.Task
		keys []string
	)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&task, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrTaskNotFound
			}
			return err
		}
		if err := tx.Model(&model.TaskSubmission{}).
			Where("task_id = ? AND attachment_key <> ''", id).
			Pluck("attachment_key", &keys).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", id).Delete(&model.TaskSubmission{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Task{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, nil, err
	}
	if task.AttachmentKey != "" {
		keys = append(keys, task.AttachmentKey)
	}
	return &task, keys, nil
}

func (r *TaskRepository) CreateSubmission(ctx context.Context, sub *model.TaskSubmission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	err := r.DB.WithContext(ctx).Create(sub).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return util.ErrAlreadySubmitted
	}
	return err
}

func (r *TaskRepository) FindSubmission(ctx context.Context, taskID string, studentID uint) (*model.TaskSubmission, error) {
	var sub model.TaskSubmission
	err := r.DB.WithContext(ctx).Where("task_id = ? AND student_id = ?", taskID, studentID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrTaskSubmissionGone
		}
		return nil, err
	}
	return &sub, nil
}

func (r *TaskRepository) ListSubmissionsByTask(ctx context.Context, taskID string) ([]model.TaskSubmission, error) {
	var subs []model.TaskSubmission
	err := r.DB.WithContext(ctx).Where("task_id = ?", taskID).Order("submitted_at desc").Find(&subs).Error
	return subs, err
}

func (r *TaskRepository) ListSubmissionsByStudent(ctx context.Context, studentID uint) ([]model.TaskSubmission, error) {
	var subs []model.TaskSubmission
	err := r.DB.WithContext(ctx).Where("student_id = ?", studentID).Order("submitted_at desc").Find(&subs).Error
	return subs, err
}

// Review 教师批阅任务提交
func (r *TaskRepository) Review(ctx context.Context, id, feedback string) (*model.TaskSubmission, error) {
	var sub model.TaskSubmission
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&sub, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrTaskSubmissionGone
			}
			return err
		}
		sub.Status = model.TaskReviewed
		sub.Feedback = feedback
		return tx.Model(&sub).Updates(map[string]interface{}{
			"status":   model.TaskReviewed,
			"feedback": feedback,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
