package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"paper_test_backend/internal/config"
	"paper_test_backend/internal/model"
	"paper_test_backend/internal/util"
	"paper_test_backend/pkg/monitoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TestProvider 读取试卷
type TestProvider interface {
	GetTest(ctx context.Context, id string) (*model.Test, error)
}

// SubmissionRecords 提交记录：交卷写入与开考前的唯一性检查
type SubmissionRecords interface {
	SubmissionStore
	HasSubmitted(ctx context.Context, testID string, studentID uint) (bool, error)
}

type Options struct {
	MaxRetries        int
	RetryBackoff      time.Duration
	UploadConcurrency int
	StagingDir        string
	DocumentTimeout   time.Duration
	FinishTimeout     time.Duration
	Clock             Clock
}

func OptionsFromConfig(cfg config.SessionConfig) Options {
	return Options{
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		UploadConcurrency: cfg.UploadConcurrency,
		StagingDir:        cfg.StagingDir,
		DocumentTimeout:   cfg.DocumentTimeout,
		FinishTimeout:     cfg.FinishTimeout,
	}
}

type studentTest struct {
	studentID uint
	testID    string
}

// Manager 管理进行中的答题会话
type Manager struct {
	tests        TestProvider
	submissions  SubmissionRecords
	source       DocumentSource
	publisher    Publisher
	orchestrator *Orchestrator

	mu        sync.RWMutex
	opts      Options
	sessions  map[string]*Session
	byStudent map[studentTest]string
}

func NewManager(tests TestProvider, submissions SubmissionRecords, blobs BlobStore, source DocumentSource, publisher Publisher, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Manager{
		tests:        tests,
		submissions:  submissions,
		source:       source,
		publisher:    publisher,
		orchestrator: NewOrchestrator(submissions, blobs, opts.UploadConcurrency),
		opts:         opts,
		sessions:     make(map[string]*Session),
		byStudent:    make(map[studentTest]string),
	}
}

// ApplyConfig 热加载会话参数，只影响之后开始的会话与上传并发
func (m *Manager) ApplyConfig(cfg config.SessionConfig) {
	m.mu.Lock()
	clock := m.opts.Clock
	m.opts = OptionsFromConfig(cfg)
	m.opts.Clock = clock
	m.mu.Unlock()

	m.orchestrator.SetConcurrency(cfg.UploadConcurrency)
	log().Info("session options reloaded",
		zap.Int("maxRetries", cfg.MaxRetries),
		zap.Duration("retryBackoff", cfg.RetryBackoff),
		zap.Int("uploadConcurrency", cfg.UploadConcurrency),
	)
}

// Start 开始答题。同一学生对同一试卷已有进行中的会话时直接返回该会话；已提交过则拒绝。
func (m *Manager) Start(ctx context.Context, p util.Principal, testID string) (*Session, error) {
	if !p.IsStudent() {
		return nil, util.ErrPermissionDenied
	}

	key := studentTest{studentID: p.UserID, testID: testID}
	m.mu.RLock()
	if id, ok := m.byStudent[key]; ok {
		if s := m.sessions[id]; s != nil {
			if st := s.State(); st != StateFinished {
				m.mu.RUnlock()
				return s, nil
			}
		}
	}
	m.mu.RUnlock()

	test, err := m.tests.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	submitted, err := m.submissions.HasSubmitted(ctx, testID, p.UserID)
	if err != nil {
		return nil, err
	}
	if submitted {
		return nil, &PreconditionError{Reason: "test already submitted", Err: util.ErrAlreadySubmitted}
	}

	m.mu.Lock()
	// 并发开考时只保留一个会话
	if id, ok := m.byStudent[key]; ok {
		if s := m.sessions[id]; s != nil && s.State() != StateFinished {
			m.mu.Unlock()
			return s, nil
		}
	}
	opts := m.opts
	id := uuid.NewString()
	s, err := newSession(id, p.UserID, *test, sessionDeps{
		clock:  opts.Clock,
		source: m.source,
		loaderOpts: LoaderOptions{
			MaxRetries:   opts.MaxRetries,
			RetryBackoff: opts.RetryBackoff,
			Timeout:      opts.DocumentTimeout,
		},
		orchestrator:  m.orchestrator,
		publisher:     m.publisher,
		stagingDir:    filepath.Join(opts.StagingDir, id),
		finishTimeout: opts.FinishTimeout,
		onFinished:    m.finished,
	})
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[id] = s
	m.byStudent[key] = id
	m.mu.Unlock()

	s.start()
	monitoring.ActiveSessions.Inc()
	log().Info("test session started",
		zap.String("sessionId", id),
		zap.String("testId", testID),
		zap.Uint("studentId", p.UserID),
		zap.Int("durationMinutes", test.DurationMinutes),
	)
	return s, nil
}

func (m *Manager) finished(s *Session) {
	monitoring.ActiveSessions.Dec()
}

// Get 返回会话，学生只能访问自己的会话
func (m *Manager) Get(p util.Principal, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, util.ErrSessionNotFound
	}
	if s.StudentID != p.UserID {
		return nil, util.ErrSessionNotOwned
	}
	return s, nil
}

// Finish 学生手动交卷，需要确认
func (m *Manager) Finish(ctx context.Context, p util.Principal, id string, confirmed bool) (*FinishResult, error) {
	s, err := m.Get(p, id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	timeout := m.opts.FinishTimeout
	m.mu.RUnlock()

	// 客户端断开不应中断上传
	ctx = context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.Finish(ctx, TriggerManual, confirmed)
}

// Abandon 放弃会话，不保存任何内容
func (m *Manager) Abandon(p util.Principal, id string) error {
	s, err := m.Get(p, id)
	if err != nil {
		return err
	}
	if err := s.abandon(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, id)
	key := studentTest{studentID: s.StudentID, testID: s.Test.ID}
	if m.byStudent[key] == id {
		delete(m.byStudent, key)
	}
	m.mu.Unlock()

	m.closeSubscribers(id)
	log().Info("test session abandoned", zap.String("sessionId", id), zap.Uint("studentId", s.StudentID))
	return nil
}

// Prune 移除结束超过 retention 的会话，返回移除数量。
// 自动交卷失败而停留在 expired 的会话同样在超过 retention 后释放。
func (m *Manager) Prune(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		state := s.State()
		if (state != StateFinished && state != StateExpired) || s.lastActivity().After(cutoff) {
			continue
		}
		if state == StateExpired {
			log().Warn("discarding expired session that was never submitted",
				zap.String("sessionId", id),
				zap.Uint("studentId", s.StudentID),
				zap.Int("answers", len(s.Answers())),
			)
			if err := s.abandon(); err != nil {
				continue
			}
		}
		delete(m.sessions, id)
		key := studentTest{studentID: s.StudentID, testID: s.Test.ID}
		if m.byStudent[key] == id {
			delete(m.byStudent, key)
		}
		m.closeSubscribers(id)
		removed++
	}
	return removed
}

func (m *Manager) closeSubscribers(id string) {
	if c, ok := m.publisher.(SessionCloser); ok {
		c.CloseSession(id)
	}
}

// CleanStaging 删除不属于任何会话、且超过 maxAge 未修改的暂存目录
func (m *Manager) CleanStaging(maxAge time.Duration) (int, error) {
	m.mu.RLock()
	dir := m.opts.StagingDir
	active := make(map[string]bool, len(m.sessions))
	for id := range m.sessions {
		active[id] = true
	}
	m.mu.RUnlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if active[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			log().Warn("failed to remove stale staging entry", zap.String("entry", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// Shutdown 停止所有计时，未交卷的会话不会被自动提交
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.countdown.Stop()
		s.close()
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) String() string {
	return fmt.Sprintf("session.Manager(%d sessions)", m.Len())
}
