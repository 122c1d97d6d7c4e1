package repository

import (
	"context"
	"errors"
	"paper_test_backend/internal/model"
	"paper_test_backend/internal/util"

	"gorm.io/gorm"
)

type TestRepository struct {
	DB *gorm.DB
}

func NewTestRepository(db *gorm.DB) *TestRepository {
	return &TestRepository{DB: db}
}

func (r *TestRepository) Create(ctx context.Context, test *model.Test) error {
	return r.DB.WithContext(ctx).Create(test).Error
}

func (r *TestRepository) FindByID(ctx context.Context, id string) (*model.Test, error) {
	var test model.Test
	if err := r.DB.WithContext(ctx).First(&test, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrTestNotFound
		}
		return nil, err
	}
	return &test, nil
}

func (r *TestRepository) List(ctx context.Context) ([]model.Test, error) {
	var tests []model.Test
	err := r.DB.WithContext(ctx).Order("created_at desc").Find(&tests).Error
	return tests, err
}

// UpdateDocument 试卷创建后唯一允许修改的字段
func (r *TestRepository) UpdateDocument(ctx context.Context, id, url, key string) error {
	res := r.DB.WithContext(ctx).Model(&model.Test{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"pdf_url": url, "pdf_key": key})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrTestNotFound
	}
	return nil
}

// DeletedTest 级联删除后需要清理的存储对象
type DeletedTest struct {
	Test      model.Test
	AnswerKey []string
}

// DeleteCascade 单个事务内删除试卷、提交记录和答题图片记录
func (r *TestRepository) DeleteCascade(ctx context.Context, id string) (*DeletedTest, error) {
	var out DeletedTest
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&out.Test, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrTestNotFound
			}
			return err
		}

		submissionIDs := tx.Model(&model.Submission{}).Select("id").Where("test_id = ?", id)

		if err := tx.Model(&model.AnswerImage{}).
			Where("submission_id IN (?)", submissionIDs).
			Where("storage_key <> ''").
			Pluck("storage_key", &out.AnswerKey).Error; err != nil {
			return err
		}
		if err := tx.Where("submission_id IN (?)", submissionIDs).Delete(&model.AnswerImage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("test_id = ?", id).Delete(&model.Submission{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Test{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
