package repository

import (
	"context"
	"errors"
	"paper_test_backend/internal/model"
	"paper_test_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

type SubmissionRepository struct {
	DB *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{DB: db}
}

func preloadAnswers(db *gorm.DB) *gorm.DB {
	return db.Order("question_number asc")
}

// Create 每个 (试卷, 学生) 只允许一条提交记录
func (r *SubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Submission{}).
			Where("test_id = ? AND student_id = ?", sub.TestID, sub.StudentID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return util.ErrAlreadySubmitted
		}
		return tx.Create(sub).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return util.ErrAlreadySubmitted
	}
	return err
}

func (r *SubmissionRepository) AddAnswerImage(ctx context.Context, img *model.AnswerImage) error {
	return r.DB.WithContext(ctx).Create(img).Error
}

func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*model.Submission, error) {
	var sub model.Submission
	err := r.DB.WithContext(ctx).Preload("Answers", preloadAnswers).First(&sub, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSubmissionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubmissionRepository) ExistsForStudent(ctx context.Context, testID string, studentID uint) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Submission{}).
		Where("test_id = ? AND student_id = ?", testID, studentID).
		Count(&count).Error
	return count > 0, err
}

func (r *SubmissionRepository) ListByTest(ctx context.Context, testID string) ([]model.Submission, error) {
	var subs []model.Submission
	err := r.DB.WithContext(ctx).Preload("Answers", preloadAnswers).
		Where("test_id = ?", testID).
		Order("submitted_at desc").
		Find(&subs).Error
	return subs, err
}

func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID uint) ([]model.Submission, error) {
	var subs []model.Submission
	err := r.DB.WithContext(ctx).Preload("Answers", preloadAnswers).
		Where("student_id = ?", studentID).
		Order("submitted_at desc").
		Find(&subs).Error
	return subs, err
}

// Grade 分数、评语与 graded 标记一起写入，重复评分覆盖之前的值
func (r *SubmissionRepository) Grade(ctx context.Context, id string, score float64, feedback string) (*model.Submission, error) {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub model.Submission
		if err := forUpdate(tx).First(&sub, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrSubmissionNotFound
			}
			return err
		}
		return tx.Model(&sub).Updates(map[string]interface{}{
			"score":    score,
			"feedback": feedback,
			"graded":   true,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

// Delete 删除提交及其答题图片记录，返回需要清理的存储 key
func (r *SubmissionRepository) Delete(ctx context.Context, id string) (*model.Submission, []string, error) {
	var (
		sub  model.Submission
		keys []string
	)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&sub, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrSubmissionNotFound
			}
			return err
		}
		if err := tx.Model(&model.AnswerImage{}).
			Where("submission_id = ? AND storage_key <> ''", id).
			Pluck("storage_key", &keys).Error; err != nil {
			return err
		}
		if err := tx.Where("submission_id = ?", id).Delete(&model.AnswerImage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Submission{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &sub, keys, nil
}
