package service

import (
	"context"
	"math"

	"paper_test_backend/internal/model"
	"paper_test_backend/internal/repository"
	"paper_test_backend/internal/util"
	"paper_test_backend/pkg/logger"

	"go.uber.org/zap"
)

type GradeRequest struct {
	Score    *float64 `json:"score" validate:"required"`
	Feedback string   `json:"feedback" validate:"max=5000"`
}

type SubmissionService struct {
	SubmissionRepo *repository.SubmissionRepository
	TestRepo       *repository.TestRepository
	Storage        *StorageService
}

func NewSubmissionService(submissionRepo *repository.SubmissionRepository, testRepo *repository.TestRepository, storage *StorageService) *SubmissionService {
	return &SubmissionService{
		SubmissionRepo: submissionRepo,
		TestRepo:       testRepo,
		Storage:        storage,
	}
}

// CreateSubmission 创建提交记录（答题图片随后逐题追加）
func (s *SubmissionService) CreateSubmission(ctx context.Context, testID string, studentID uint) (string, error) {
	if _, err := s.TestRepo.FindByID(ctx, testID); err != nil {
		return "", err
	}
	sub := &model.Submission{TestID: testID, StudentID: studentID}
	if err := s.SubmissionRepo.Create(ctx, sub); err != nil {
		return "", err
	}
	return sub.ID, nil
}

func (s *SubmissionService) AddAnswerImage(ctx context.Context, submissionID string, questionNumber int, imageURL, storageKey string) error {
	return s.SubmissionRepo.AddAnswerImage(ctx, &model.AnswerImage{
		SubmissionID:   submissionID,
		QuestionNumber: questionNumber,
		ImageURL:       imageURL,
		StorageKey:     storageKey,
	})
}

func (s *SubmissionService) HasSubmitted(ctx context.Context, testID string, studentID uint) (bool, error) {
	return s.SubmissionRepo.ExistsForStudent(ctx, testID, studentID)
}

// Grade 仅教师可评分；分数须为非负有限数，重复评分以最后一次为准
func (s *SubmissionService) Grade(ctx context.Context, p util.Principal, id string, req GradeRequest) (*model.Submission, error) {
	if !p.IsTeacher() {
		return nil, util.ErrPermissionDenied
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	score := *req.Score
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return nil, util.ErrInvalidScore
	}

	sub, err := s.SubmissionRepo.Grade(ctx, id, score, req.Feedback)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("submission graded",
		zap.String("submissionId", id),
		zap.Float64("score", score),
		zap.Uint("teacherId", p.UserID),
	)
	return sub, nil
}

// Get 教师可查看任意提交，学生只能查看自己的
func (s *SubmissionService) Get(ctx context.Context, p util.Principal, id string) (*model.Submission, error) {
	sub, err := s.SubmissionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsTeacher() && sub.StudentID != p.UserID {
		return nil, util.ErrPermissionDenied
	}
	return sub, nil
}

func (s *SubmissionService) ListByTest(ctx context.Context, p util.Principal, testID string) ([]model.Submission, error) {
	if !p.IsTeacher() {
		return nil, util.ErrPermissionDenied
	}
	if _, err := s.TestRepo.FindByID(ctx, testID); err != nil {
		return nil, err
	}
	return s.SubmissionRepo.ListByTest(ctx, testID)
}

func (s *SubmissionService) ListMine(ctx context.Context, p util.Principal) ([]model.Submission, error) {
	return s.SubmissionRepo.ListByStudent(ctx, p.UserID)
}

// Delete 学生删除自己的已完成记录，教师可删除任意记录
func (s *SubmissionService) Delete(ctx context.Context, p util.Principal, id string) error {
	sub, err := s.SubmissionRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsTeacher() && sub.StudentID != p.UserID {
		return util.ErrPermissionDenied
	}

	_, keys, err := s.SubmissionRepo.Delete(ctx, id)
	if err != nil {
		return err
	}
	removeBlobs(ctx, s.Storage, keys...)

	logger.Log.Info("submission deleted", zap.String("submissionId", id), zap.Uint("by", p.UserID))
	return nil
}
