package service

import (
	"context"
	"fmt"
	"io"

	"paper_test_backend/internal/model"
	"paper_test_backend/internal/repository"
	"paper_test_backend/internal/util"
	"paper_test_backend/pkg/logger"

	"go.uber.org/zap"
)

type CreateTestRequest struct {
	Title           string `json:"title" validate:"required,max=255"`
	Description     string `json:"description"`
	NumQuestions    int    `json:"numQuestions" validate:"required,gte=1,lte=500"`
	DurationMinutes int    `json:"durationMinutes" validate:"required,gte=1,lte=1440"`
}

// FileUpload 上传文件的统一入参，Reader 需支持回退以便嗅探 MIME
type FileUpload struct {
	Reader   io.ReadSeeker
	Size     int64
	Filename string
}

// sniff 检查大小并嗅探真实 MIME 类型，完成后回到文件开头
func (f *FileUpload) sniff(limit int64) (string, error) {
	if f == nil || f.Reader == nil {
		return "", util.ErrAttachmentRequired
	}
	if f.Size > limit {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", util.ErrFileTooLarge, f.Size, limit)
	}
	mime, err := util.SniffMimeType(f.Reader)
	if err != nil {
		return "", err
	}
	if _, err := f.Reader.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return mime, nil
}

type TestService struct {
	TestRepo *repository.TestRepository
	Cache    *repository.TestCache
	Storage  *StorageService
}

func NewTestService(testRepo *repository.TestRepository, cache *repository.TestCache, storage *StorageService) *TestService {
	return &TestService{
		TestRepo: testRepo,
		Cache:    cache,
		Storage:  storage,
	}
}

func (s *TestService) CreateTest(ctx context.Context, p util.Principal, req CreateTestRequest) (*model.Test, error) {
	if !p.IsTeacher() {
		return nil, util.ErrPermissionDenied
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	test := &model.Test{
		Title:           req.Title,
		Description:     req.Description,
		PDFURL:          model.PlaceholderPDFURL,
		NumQuestions:    req.NumQuestions,
		DurationMinutes: req.DurationMinutes,
		CreatedBy:       p.UserID,
	}
	if err := s.TestRepo.Create(ctx, test); err != nil {
		return nil, err
	}
	s.Cache.Invalidate(ctx)

	logger.Log.Info("test created", zap.String("testId", test.ID), zap.Uint("teacherId", p.UserID))
	return test, nil
}

// UploadTestFile 上传试卷 PDF，记录更新失败时删除已上传的文件
func (s *TestService) UploadTestFile(ctx context.Context, p util.Principal, testID string, file *FileUpload) (*model.Test, error) {
	if !p.IsTeacher() {
		return nil, util.ErrPermissionDenied
	}
	test, err := s.TestRepo.FindByID(ctx, testID)
	if err != nil {
		return nil, err
	}

	mime, err := file.sniff(util.MaxTestFileSize)
	if err != nil {
		return nil, err
	}
	if err := util.CheckMimeType(mime, util.MimePDF); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s_%s.pdf", test.ID, util.RandomKey())
	url, err := s.Storage.Upload(ctx, util.BucketTestFiles, key, file.Reader, file.Size, util.MimePDF)
	if err != nil {
		return nil, fmt.Errorf("upload test file: %w", err)
	}

	objectPath := util.ObjectPath(util.BucketTestFiles, key)
	if err := s.TestRepo.UpdateDocument(ctx, test.ID, url, objectPath); err != nil {
		s.removeBlobs(ctx, objectPath)
		return nil, err
	}

	if test.PDFKey != "" {
		s.removeBlobs(ctx, test.PDFKey)
	}
	s.Cache.Invalidate(ctx, test.ID)

	test.PDFURL = url
	test.PDFKey = objectPath
	return test, nil
}

func (s *TestService) ListTests(ctx context.Context) ([]model.Test, error) {
	if tests, ok := s.Cache.GetList(ctx); ok {
		return tests, nil
	}
	tests, err := s.TestRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tests {
		normalizeDocumentURL(&tests[i])
	}
	s.Cache.SetList(ctx, tests)
	return tests, nil
}

func (s *TestService) GetTest(ctx context.Context, id string) (*model.Test, error) {
	if test, ok := s.Cache.Get(ctx, id); ok {
		return test, nil
	}
	test, err := s.TestRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	normalizeDocumentURL(test)
	s.Cache.Set(ctx, test)
	return test, nil
}

// DeleteTest 事务内级联删除，之后尽力清理存储文件
func (s *TestService) DeleteTest(ctx context.Context, p util.Principal, id string) error {
	if !p.IsTeacher() {
		return util.ErrPermissionDenied
	}
	deleted, err := s.TestRepo.DeleteCascade(ctx, id)
	if err != nil {
		return err
	}
	s.Cache.Invalidate(ctx, id)

	paths := append([]string{}, deleted.AnswerKey...)
	if deleted.Test.PDFKey != "" {
		paths = append(paths, deleted.Test.PDFKey)
	}
	s.removeBlobs(ctx, paths...)

	logger.Log.Info("test deleted",
		zap.String("testId", id),
		zap.Int("answerImages", len(deleted.AnswerKey)),
	)
	return nil
}

func (s *TestService) removeBlobs(ctx context.Context, paths ...string) {
	removeBlobs(ctx, s.Storage, paths...)
}

func removeBlobs(ctx context.Context, storage *StorageService, paths ...string) {
	for _, path := range paths {
		if err := storage.DeleteObject(ctx, path); err != nil {
			logger.Log.Warn("failed to delete stored object", zap.String("object", path), zap.Error(err))
		}
	}
}

func normalizeDocumentURL(test *model.Test) {
	if test.PDFURL == "" {
		test.PDFURL = model.PlaceholderPDFURL
	}
}
