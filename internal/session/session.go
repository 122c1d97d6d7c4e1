package session

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"paper_test_backend/internal/model"
	"paper_test_backend/pkg/monitoring"

	"go.uber.org/zap"
)

type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateExpired    State = "expired"
	StateFinishing  State = "finishing"
	StateFinished   State = "finished"
)

// Event 推送给 WebSocket 订阅者的会话事件
type Event struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId"`
	State     State             `json:"state,omitempty"`
	Remaining *int              `json:"remaining,omitempty"`
	Document  *DocumentSnapshot `json:"document,omitempty"`
	Result    *ResultView       `json:"result,omitempty"`
	Session   *View             `json:"session,omitempty"`
	Message   string            `json:"message,omitempty"`
}

const (
	EventTick     = "tick"
	EventExpired  = "expired"
	EventFinished = "finished"
	EventDocument = "document"
	EventAnswer   = "answer"
	EventFailed   = "finish_failed"
	EventSnapshot = "snapshot"
)

// Publisher 事件发布
type Publisher interface {
	Publish(sessionID string, ev Event)
}

// SessionCloser 会话移除时断开其订阅者
type SessionCloser interface {
	CloseSession(sessionID string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, Event) {}

// ResultView 交卷结果
type ResultView struct {
	SubmissionID    string            `json:"submissionId"`
	Trigger         Trigger           `json:"trigger"`
	Answers         []SubmittedAnswer `json:"answers"`
	FailedQuestions []int             `json:"failedQuestions"`
}

func newResultView(r *FinishResult) *ResultView {
	if r == nil {
		return nil
	}
	return &ResultView{
		SubmissionID:    r.SubmissionID,
		Trigger:         r.Trigger,
		Answers:         r.Answers,
		FailedQuestions: r.FailedQuestions(),
	}
}

// View 会话对外展示的快照
type View struct {
	ID              string           `json:"id"`
	TestID          string           `json:"testId"`
	Title           string           `json:"title"`
	NumQuestions    int              `json:"numQuestions"`
	DurationMinutes int              `json:"durationMinutes"`
	State           State            `json:"state"`
	Remaining       int              `json:"remaining"`
	Deadline        time.Time        `json:"deadline"`
	Answers         []*CapturedFile  `json:"answers"`
	Document        DocumentSnapshot `json:"document"`
	Result          *ResultView      `json:"result,omitempty"`
}

// Session 一名学生的一次答题会话
type Session struct {
	ID        string
	StudentID uint
	Test      model.Test
	StartedAt time.Time

	answers       *AnswerStore
	countdown     *Countdown
	document      *DocumentLoader
	orchestrator  *Orchestrator
	publisher     Publisher
	finishTimeout time.Duration
	onFinished    func(*Session)

	mu        sync.Mutex
	state     State
	finishing chan struct{}
	result    *FinishResult
	finishErr error
	closed    chan struct{}
	closeOnce sync.Once
	updatedAt time.Time
}

type sessionDeps struct {
	clock         Clock
	source        DocumentSource
	loaderOpts    LoaderOptions
	orchestrator  *Orchestrator
	publisher     Publisher
	stagingDir    string
	finishTimeout time.Duration
	onFinished    func(*Session)
}

func newSession(id string, studentID uint, test model.Test, deps sessionDeps) (*Session, error) {
	if deps.publisher == nil {
		deps.publisher = nopPublisher{}
	}
	s := &Session{
		ID:            id,
		StudentID:     studentID,
		Test:          test,
		answers:       NewAnswerStore(test.NumQuestions, deps.stagingDir),
		orchestrator:  deps.orchestrator,
		publisher:     deps.publisher,
		finishTimeout: deps.finishTimeout,
		onFinished:    deps.onFinished,
		state:         StateNotStarted,
		closed:        make(chan struct{}),
	}

	countdown, err := NewCountdown(test.DurationMinutes, deps.clock, s.expire)
	if err != nil {
		return nil, &PreconditionError{Reason: "invalid test duration", Err: err}
	}
	s.countdown = countdown
	s.document = NewDocumentLoader(test.PDFURL, deps.source, deps.loaderOpts, func(snap DocumentSnapshot) {
		s.publisher.Publish(s.ID, Event{Type: EventDocument, SessionID: s.ID, Document: &snap})
	})
	return s, nil
}

// start not_started → in_progress，开始计时并在后台加载试卷
func (s *Session) start() {
	s.mu.Lock()
	if s.state != StateNotStarted {
		s.mu.Unlock()
		return
	}
	s.state = StateInProgress
	s.StartedAt = time.Now()
	s.updatedAt = s.StartedAt
	s.mu.Unlock()

	go s.pumpTicks()
	s.countdown.Start()
	s.document.Start(context.Background())
}

func (s *Session) pumpTicks() {
	for {
		select {
		case <-s.closed:
			return
		case remaining := <-s.countdown.Ticks():
			r := remaining
			s.publisher.Publish(s.ID, Event{Type: EventTick, SessionID: s.ID, State: s.State(), Remaining: &r})
		}
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Remaining() int {
	return s.countdown.Remaining()
}

func (s *Session) Document() *DocumentLoader {
	return s.document
}

func (s *Session) Countdown() *Countdown {
	return s.countdown
}

// Result 交卷完成后的结果
func (s *Session) Result() (*FinishResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.state == StateFinished
}

// SetAnswer 暂存某题答案，仅答题中可用。
// 登记与状态检查在同一把锁内完成，交卷开始后不会再替换已快照的答案。
func (s *Session) SetAnswer(q int, filename string, r io.Reader) (*CapturedFile, error) {
	if state := s.State(); state != StateInProgress {
		return nil, &PreconditionError{Reason: "answers can only change while the test is in progress (state " + string(state) + ")"}
	}

	file, err := s.answers.Capture(q, filename, r)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		s.answers.Discard(file)
		return nil, &PreconditionError{Reason: "test ended while the answer was being captured"}
	}
	err = s.answers.Set(q, file)
	s.updatedAt = time.Now()
	s.mu.Unlock()
	if err != nil {
		s.answers.Discard(file)
		return nil, err
	}

	s.publisher.Publish(s.ID, Event{Type: EventAnswer, SessionID: s.ID, State: StateInProgress})
	return file, nil
}

func (s *Session) Answer(q int) (*CapturedFile, bool) {
	return s.answers.Get(q)
}

func (s *Session) Answers() []*CapturedFile {
	return s.answers.List()
}

// OpenPreview 打开暂存的答题图片用于预览
func (s *Session) OpenPreview(q int) (*os.File, *CapturedFile, error) {
	file, ok := s.answers.Get(q)
	if !ok {
		return nil, nil, &PreconditionError{Reason: "no answer captured for this question"}
	}
	f, err := os.Open(file.StagedPath)
	if err != nil {
		return nil, nil, err
	}
	return f, file, nil
}

// expire 计时结束：in_progress → expired，并以 TriggerExpired 自动交卷
func (s *Session) expire() {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return
	}
	s.state = StateExpired
	s.mu.Unlock()

	s.finishExpired()
}

// finishExpired 通知到期并自动交卷
func (s *Session) finishExpired() {
	zero := 0
	s.publisher.Publish(s.ID, Event{Type: EventExpired, SessionID: s.ID, State: StateExpired, Remaining: &zero, Message: "Time's up"})
	log().Info("test session expired", zap.String("sessionId", s.ID), zap.String("testId", s.Test.ID))

	ctx := context.Background()
	if s.finishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.finishTimeout)
		defer cancel()
	}
	if _, err := s.Finish(ctx, TriggerExpired, true); err != nil {
		log().Error("automatic finish failed", zap.String("sessionId", s.ID), zap.Error(err))
	}
}

// Finish 交卷。并发的手动交卷与到期自动交卷只会执行一次，其余调用等待并共享结果。
// 提交记录创建失败时会话回到之前的状态，可再次交卷。
func (s *Session) Finish(ctx context.Context, trigger Trigger, confirmed bool) (*FinishResult, error) {
	s.mu.Lock()
	switch s.state {
	case StateNotStarted:
		s.mu.Unlock()
		return nil, precondition("session has not started")
	case StateFinished:
		result := s.result
		s.mu.Unlock()
		if result == nil {
			return nil, precondition("session was abandoned")
		}
		return result, nil
	case StateFinishing:
		wait := s.finishing
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, s.finishErr
	case StateExpired:
		// 到期后不再需要确认
		trigger = TriggerExpired
		confirmed = true
	}

	if trigger == TriggerManual && !confirmed {
		s.mu.Unlock()
		return nil, precondition("finishing early requires confirmation")
	}

	previous := s.state
	s.state = StateFinishing
	s.finishing = make(chan struct{})
	s.finishErr = nil
	done := s.finishing
	answers := s.answers.List()
	s.mu.Unlock()

	result, err := s.orchestrator.Finish(ctx, FinishRequest{
		SessionID: s.ID,
		TestID:    s.Test.ID,
		StudentID: s.StudentID,
		Answers:   answers,
		Trigger:   trigger,
		Confirmed: confirmed,
	})

	s.mu.Lock()
	s.updatedAt = time.Now()
	if err != nil {
		s.state = previous
		if previous == StateInProgress && s.countdown.Expired() {
			s.state = StateExpired
		}
		// 手动交卷期间已到期，失败后转为自动交卷
		autoFinish := s.state == StateExpired && trigger != TriggerExpired
		s.finishErr = err
		close(done)
		s.mu.Unlock()

		s.publisher.Publish(s.ID, Event{Type: EventFailed, SessionID: s.ID, State: s.State(), Message: err.Error()})
		if autoFinish {
			go s.finishExpired()
		}
		return nil, err
	}
	s.state = StateFinished
	s.result = result
	close(done)
	s.mu.Unlock()

	s.countdown.Stop()
	s.answers.ReleaseAll()
	s.close()

	s.publisher.Publish(s.ID, Event{Type: EventFinished, SessionID: s.ID, State: StateFinished, Result: newResultView(result)})
	if s.onFinished != nil {
		s.onFinished(s)
	}
	return result, nil
}

// abandon 放弃会话：停止计时并释放暂存文件，不写入任何记录
func (s *Session) abandon() error {
	s.mu.Lock()
	if s.state == StateFinishing {
		s.mu.Unlock()
		return precondition("session is being submitted")
	}
	wasActive := s.state == StateInProgress || s.state == StateExpired
	s.state = StateFinished
	s.mu.Unlock()

	s.countdown.Stop()
	s.answers.ReleaseAll()
	s.close()
	if wasActive {
		monitoring.ActiveSessions.Dec()
	}
	return nil
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.document.Close()
	})
}

func (s *Session) lastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *Session) View() View {
	s.mu.Lock()
	state := s.state
	result := s.result
	s.mu.Unlock()

	return View{
		ID:              s.ID,
		TestID:          s.Test.ID,
		Title:           s.Test.Title,
		NumQuestions:    s.Test.NumQuestions,
		DurationMinutes: s.Test.DurationMinutes,
		State:           state,
		Remaining:       s.countdown.Remaining(),
		Deadline:        s.countdown.Deadline(),
		Answers:         s.answers.List(),
		Document:        s.document.Snapshot(),
		Result:          newResultView(result),
	}
}

// SnapshotEvent 完整快照，订阅者连接或请求同步时推送
func (s *Session) SnapshotEvent() Event {
	view := s.View()
	return Event{Type: EventSnapshot, SessionID: s.ID, State: view.State, Session: &view}
}

// IsPersistenceError 交卷是否因提交记录创建失败而中止
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
