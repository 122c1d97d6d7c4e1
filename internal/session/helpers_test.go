package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const pngBytes = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01"

// manualClock 手动推进的时钟；ticker 不会自动触发，测试直接调用 Countdown.tick
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() { t.stopped.Store(true) }

// fakeSource 依次返回预设结果，用尽后重复最后一个
type fakeSource struct {
	mu      sync.Mutex
	results []error
	pages   int
	opens   int
}

func (s *fakeSource) Open(ctx context.Context, url string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	var err error
	if len(s.results) > 0 {
		idx := s.opens - 1
		if idx >= len(s.results) {
			idx = len(s.results) - 1
		}
		err = s.results[idx]
	}
	if err != nil {
		return nil, err
	}
	return &Document{URL: url, PageCount: s.pages}, nil
}

func (s *fakeSource) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

type recordedAnswer struct {
	SubmissionID string
	Question     int
	URL          string
	Key          string
}

// fakeStore 内存中的提交记录
type fakeStore struct {
	mu        sync.Mutex
	createErr error
	gate      chan struct{}
	addErr    map[int]error
	created   int
	answers   []recordedAnswer
	submitted map[string]bool

	// 之后若干次创建返回连接错误
	failCreates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{addErr: map[int]error{}, submitted: map[string]bool{}}
}

func (s *fakeStore) CreateSubmission(ctx context.Context, testID string, studentID uint) (string, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	if s.failCreates > 0 {
		s.failCreates--
		return "", errors.New("connection refused")
	}
	s.created++
	s.submitted[fmt.Sprintf("%s/%d", testID, studentID)] = true
	return fmt.Sprintf("sub-%d", s.created), nil
}

func (s *fakeStore) AddAnswerImage(ctx context.Context, submissionID string, q int, url, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.addErr[q]; err != nil {
		return err
	}
	s.answers = append(s.answers, recordedAnswer{SubmissionID: submissionID, Question: q, URL: url, Key: key})
	return nil
}

func (s *fakeStore) HasSubmitted(ctx context.Context, testID string, studentID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted[fmt.Sprintf("%s/%d", testID, studentID)], nil
}

func (s *fakeStore) setCreateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

func (s *fakeStore) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// fakeBlobs 内存对象存储；failQuestions 中的题号上传失败
type fakeBlobs struct {
	mu            sync.Mutex
	failQuestions map[int]bool
	objects       map[string][]byte
	deleted       []string
	uploads       int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{failQuestions: map[int]bool{}, objects: map[string][]byte{}}
}

func (b *fakeBlobs) UploadFile(ctx context.Context, bucket, key, localPath, contentType string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads++
	for q := range b.failQuestions {
		if strings.Contains(key, fmt.Sprintf("_%d_", q)) {
			return "", errors.New("network unreachable")
		}
	}
	b.objects[bucket+"/"+key] = data
	return "https://blobs.test/" + bucket + "/" + key, nil
}

func (b *fakeBlobs) Delete(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, bucket+"/"+key)
	b.deleted = append(b.deleted, bucket+"/"+key)
	return nil
}

func (b *fakeBlobs) Uploads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploads
}

func (b *fakeBlobs) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(sessionID string, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *recordingPublisher) Count(eventType string) int {
	n := 0
	for _, t := range p.Types() {
		if t == eventType {
			n++
		}
	}
	return n
}

// heldReader 第一次 Read 时通知 reading 并阻塞到 release 关闭
type heldReader struct {
	r       io.Reader
	once    sync.Once
	reading chan struct{}
	release chan struct{}
}

func newHeldReader(content string) *heldReader {
	return &heldReader{r: strings.NewReader(content), reading: make(chan struct{}), release: make(chan struct{})}
}

func (h *heldReader) Read(p []byte) (int, error) {
	h.once.Do(func() {
		close(h.reading)
		<-h.release
	})
	return h.r.Read(p)
}

// stageAnswers 在临时目录中暂存若干题的图片
func stageAnswers(dir string, numQuestions int, questions ...int) (*AnswerStore, error) {
	store := NewAnswerStore(numQuestions, dir)
	for _, q := range questions {
		if _, err := store.Stage(q, fmt.Sprintf("q%d.png", q), strings.NewReader(pngBytes)); err != nil {
			return nil, err
		}
	}
	return store, nil
}
