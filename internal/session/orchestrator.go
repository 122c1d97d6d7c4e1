package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"paper_test_backend/internal/util"
	"paper_test_backend/pkg/monitoring"
	"paper_test_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerExpired Trigger = "expired"
)

// SubmissionStore 提交记录的持久化
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, testID string, studentID uint) (string, error)
	AddAnswerImage(ctx context.Context, submissionID string, questionNumber int, imageURL, storageKey string) error
}

// BlobStore 答题图片的对象存储
type BlobStore interface {
	UploadFile(ctx context.Context, bucket, key, localPath, contentType string) (string, error)
	Delete(ctx context.Context, bucket, key string) error
}

type FinishRequest struct {
	SessionID string
	TestID    string
	StudentID uint
	Answers   []*CapturedFile
	Trigger   Trigger
	Confirmed bool
}

type SubmittedAnswer struct {
	QuestionNumber int    `json:"questionNumber"`
	ImageURL       string `json:"imageUrl"`
}

type FinishResult struct {
	SubmissionID string            `json:"submissionId"`
	Trigger      Trigger           `json:"trigger"`
	Answers      []SubmittedAnswer `json:"answers"`
	Failures     []*UploadError    `json:"-"`
}

// Partial 是否有题目上传失败
func (r *FinishResult) Partial() bool {
	return len(r.Failures) > 0
}

// FailedQuestions 上传失败的题号，升序
func (r *FinishResult) FailedQuestions() []int {
	out := make([]int, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Question)
	}
	return out
}

// Orchestrator 交卷流程：先创建提交记录，再并发上传各题图片并逐条登记
type Orchestrator struct {
	store       SubmissionStore
	blobs       BlobStore
	concurrency atomic.Int32
}

func NewOrchestrator(store SubmissionStore, blobs BlobStore, concurrency int) *Orchestrator {
	o := &Orchestrator{store: store, blobs: blobs}
	o.SetConcurrency(concurrency)
	return o
}

// SetConcurrency 调整上传并发数，配置热加载时调用
func (o *Orchestrator) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	o.concurrency.Store(int32(n))
}

func (o *Orchestrator) Finish(ctx context.Context, req FinishRequest) (result *FinishResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "session.finish",
		attribute.String("session.id", req.SessionID),
		attribute.String("test.id", req.TestID),
		attribute.String("trigger", string(req.Trigger)),
		attribute.Int("answers", len(req.Answers)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	logFields := []zap.Field{
		zap.String("sessionId", req.SessionID),
		zap.String("testId", req.TestID),
		zap.Uint("studentId", req.StudentID),
		zap.String("trigger", string(req.Trigger)),
	}

	if req.StudentID == 0 {
		return nil, precondition("student identity is required")
	}
	if req.TestID == "" {
		return nil, precondition("test id is required")
	}
	if req.Trigger != TriggerExpired && !req.Confirmed {
		return nil, precondition("finishing early requires confirmation")
	}

	submissionID, err := o.store.CreateSubmission(ctx, req.TestID, req.StudentID)
	if err != nil {
		monitoring.SessionsFinished.WithLabelValues(string(req.Trigger), "persistence_error").Inc()
		log().Error("failed to create submission", append(logFields, zap.Error(err))...)
		return nil, &PersistenceError{Op: "create submission", Err: err}
	}

	result = &FinishResult{
		SubmissionID: submissionID,
		Trigger:      req.Trigger,
		Answers:      make([]SubmittedAnswer, 0, len(req.Answers)),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(int(o.concurrency.Load()))
	for _, answer := range req.Answers {
		g.Go(func() error {
			uploaded, uerr := o.upload(ctx, submissionID, answer)

			mu.Lock()
			defer mu.Unlock()
			if uerr != nil {
				result.Failures = append(result.Failures, uerr)
				monitoring.AnswerUploads.WithLabelValues("failed").Inc()
				log().Error("answer upload failed",
					append(logFields, zap.String("submissionId", submissionID), zap.Int("question", answer.QuestionNumber), zap.Error(uerr.Err))...)
				return nil
			}
			result.Answers = append(result.Answers, uploaded)
			monitoring.AnswerUploads.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Answers, func(i, j int) bool { return result.Answers[i].QuestionNumber < result.Answers[j].QuestionNumber })
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].Question < result.Failures[j].Question })

	outcome := "complete"
	if result.Partial() {
		outcome = "partial"
	}
	monitoring.SessionsFinished.WithLabelValues(string(req.Trigger), outcome).Inc()
	log().Info("submission finished",
		append(logFields,
			zap.String("submissionId", submissionID),
			zap.Int("uploaded", len(result.Answers)),
			zap.Ints("failed", result.FailedQuestions()),
		)...)
	return result, nil
}

// upload 上传单题图片并登记；登记失败时删除已上传的对象
func (o *Orchestrator) upload(ctx context.Context, submissionID string, answer *CapturedFile) (SubmittedAnswer, *UploadError) {
	q := answer.QuestionNumber
	key := fmt.Sprintf("%s_%d_%s%s", submissionID, q, util.RandomKey(), util.FileExt(answer.Filename, answer.ContentType))

	url, err := o.blobs.UploadFile(ctx, util.BucketAnswerImages, key, answer.StagedPath, answer.ContentType)
	if err != nil {
		return SubmittedAnswer{}, &UploadError{Question: q, Err: fmt.Errorf("upload: %w", err)}
	}

	if err := o.store.AddAnswerImage(ctx, submissionID, q, url, util.ObjectPath(util.BucketAnswerImages, key)); err != nil {
		if derr := o.blobs.Delete(context.WithoutCancel(ctx), util.BucketAnswerImages, key); derr != nil {
			log().Error("failed to remove orphaned answer image",
				zap.String("submissionId", submissionID),
				zap.Int("question", q),
				zap.String("key", key),
				zap.Error(derr),
			)
		}
		return SubmittedAnswer{}, &UploadError{Question: q, Err: fmt.Errorf("record answer: %w", err)}
	}
	return SubmittedAnswer{QuestionNumber: q, ImageURL: url}, nil
}
