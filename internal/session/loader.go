package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"paper_test_backend/internal/model"
	"paper_test_backend/pkg/monitoring"

	"go.uber.org/zap"
)

type DocumentState string

const (
	DocumentIdle        DocumentState = "idle"
	DocumentLoading     DocumentState = "loading"
	DocumentLoaded      DocumentState = "loaded"
	DocumentFailed      DocumentState = "failed"
	DocumentFallback    DocumentState = "fallback_shown"
	DocumentUnavailable DocumentState = "unavailable"
)

const (
	msgNotYetAvailable = "Test document is not yet available"
	msgFailedToLoad    = "Failed to load test document"
)

// Document 已加载的试卷文档
type Document struct {
	URL       string
	PageCount int
}

// DocumentSource 加载远程文档；文档不存在时返回 ErrDocumentNotFound
type DocumentSource interface {
	Open(ctx context.Context, url string) (*Document, error)
}

type LoaderOptions struct {
	MaxRetries   int
	RetryBackoff time.Duration
	Timeout      time.Duration
}

// DocumentSnapshot 文档加载状态快照，推送给客户端
type DocumentSnapshot struct {
	State       DocumentState `json:"state"`
	URL         string        `json:"url"`
	PageCount   int           `json:"pageCount,omitempty"`
	CurrentPage int           `json:"currentPage,omitempty"`
	Attempt     int           `json:"attempt"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// DocumentLoader 加载试卷 PDF：失败后固定间隔自动重试 MaxRetries 次，
// 用尽后进入 fallback_shown，只有 ManualRetry 才能重新加载
type DocumentLoader struct {
	source   DocumentSource
	url      string
	opts     LoaderOptions
	onChange func(DocumentSnapshot)

	mu          sync.Mutex
	state       DocumentState
	attempt     int
	pageCount   int
	currentPage int
	lastErr     error
	cancel      context.CancelFunc
	generation  int
}

func NewDocumentLoader(url string, source DocumentSource, opts LoaderOptions, onChange func(DocumentSnapshot)) *DocumentLoader {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if onChange == nil {
		onChange = func(DocumentSnapshot) {}
	}
	return &DocumentLoader{
		source:   source,
		url:      strings.TrimSpace(url),
		opts:     opts,
		onChange: onChange,
		state:    DocumentIdle,
	}
}

func isPlaceholderURL(url string) bool {
	return url == "" || url == "placeholder" || strings.HasSuffix(url, model.PlaceholderPDFURL)
}

// Start 在后台加载
func (l *DocumentLoader) Start(ctx context.Context) {
	ctx, gen := l.begin(ctx)
	go l.load(ctx, gen)
}

// Load 同步加载直到进入 loaded、unavailable 或 fallback_shown
func (l *DocumentLoader) Load(ctx context.Context) DocumentState {
	ctx, gen := l.begin(ctx)
	return l.load(ctx, gen)
}

// ManualRetry 重置重试计数并在后台重新加载，仅在 fallback_shown 或 failed 状态下有效。
// 加载不受调用方请求生命周期影响，只能被 Close 或下一次加载取消。
func (l *DocumentLoader) ManualRetry() (DocumentSnapshot, error) {
	l.mu.Lock()
	if l.state != DocumentFallback && l.state != DocumentFailed {
		snap := l.snapshotLocked()
		l.mu.Unlock()
		return snap, &PreconditionError{Reason: "document is " + string(snap.State) + ", nothing to retry"}
	}
	ctx, gen := l.beginLocked(context.Background())
	l.state = DocumentLoading
	l.attempt = 1
	snap := l.snapshotLocked()
	l.mu.Unlock()

	go l.load(ctx, gen)
	return snap, nil
}

// Close 取消正在进行的加载
func (l *DocumentLoader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// begin 取消上一次加载，重置计数
func (l *DocumentLoader) begin(ctx context.Context) (context.Context, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.beginLocked(ctx)
}

func (l *DocumentLoader) beginLocked(ctx context.Context) (context.Context, int) {
	if l.cancel != nil {
		l.cancel()
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.generation++
	l.attempt = 0
	l.lastErr = nil
	return ctx, l.generation
}

func (l *DocumentLoader) load(ctx context.Context, gen int) DocumentState {
	if isPlaceholderURL(l.url) {
		err := &MissingResourceError{URL: l.url}
		l.finish(gen, DocumentUnavailable, err, nil)
		return DocumentUnavailable
	}

	for attempt := 1; ; attempt++ {
		if !l.transition(gen, DocumentLoading, attempt, nil) {
			return l.State()
		}

		doc, err := l.open(ctx)
		if err == nil {
			l.finish(gen, DocumentLoaded, nil, doc)
			return DocumentLoaded
		}

		if ctx.Err() != nil {
			return l.State()
		}
		if errors.Is(err, ErrDocumentNotFound) {
			l.finish(gen, DocumentUnavailable, &MissingResourceError{URL: l.url, Err: err}, nil)
			return DocumentUnavailable
		}

		loadErr := &TransientLoadError{URL: l.url, Attempt: attempt, Err: err}
		monitoring.DocumentLoads.WithLabelValues("failed").Inc()
		log().Warn("test document load failed",
			zap.String("url", l.url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt > l.opts.MaxRetries {
			l.finish(gen, DocumentFallback, loadErr, nil)
			return DocumentFallback
		}
		if !l.transition(gen, DocumentFailed, attempt, loadErr) {
			return l.State()
		}
		if !sleepCtx(ctx, l.opts.RetryBackoff) {
			return l.State()
		}
	}
}

func (l *DocumentLoader) open(ctx context.Context) (*Document, error) {
	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}
	return l.source.Open(ctx, l.url)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// transition 仅当 gen 仍是当前加载时更新状态
func (l *DocumentLoader) transition(gen int, state DocumentState, attempt int, err error) bool {
	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return false
	}
	l.state = state
	l.attempt = attempt
	l.lastErr = err
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.onChange(snap)
	return true
}

func (l *DocumentLoader) finish(gen int, state DocumentState, err error, doc *Document) {
	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return
	}
	l.state = state
	l.lastErr = err
	if doc != nil {
		l.pageCount = doc.PageCount
		l.currentPage = 1
		if doc.PageCount < 1 {
			l.currentPage = 0
		}
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	switch state {
	case DocumentLoaded:
		monitoring.DocumentLoads.WithLabelValues("loaded").Inc()
	case DocumentUnavailable:
		monitoring.DocumentLoads.WithLabelValues("unavailable").Inc()
		log().Info("test document unavailable", zap.String("url", l.url), zap.Error(err))
	case DocumentFallback:
		monitoring.DocumentLoads.WithLabelValues("fallback").Inc()
		log().Error("test document retries exhausted", zap.String("url", l.url), zap.Error(err))
	}
	l.onChange(snap)
}

func (l *DocumentLoader) State() DocumentState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *DocumentLoader) PageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pageCount
}

func (l *DocumentLoader) CurrentPage() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentPage
}

// Err 最近一次失败原因
func (l *DocumentLoader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *DocumentLoader) NextPage() bool {
	return l.moveTo(func(cur int) int { return cur + 1 })
}

func (l *DocumentLoader) PrevPage() bool {
	return l.moveTo(func(cur int) int { return cur - 1 })
}

// GoToPage 超出 [1, pageCount] 的跳转不生效
func (l *DocumentLoader) GoToPage(n int) bool {
	return l.moveTo(func(int) int { return n })
}

func (l *DocumentLoader) moveTo(next func(cur int) int) bool {
	l.mu.Lock()
	if l.state != DocumentLoaded {
		l.mu.Unlock()
		return false
	}
	target := next(l.currentPage)
	if target < 1 || target > l.pageCount || target == l.currentPage {
		l.mu.Unlock()
		return false
	}
	l.currentPage = target
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.onChange(snap)
	return true
}

// OpenExternally 返回原始地址，供客户端在新窗口打开
func (l *DocumentLoader) OpenExternally() (string, bool) {
	if isPlaceholderURL(l.url) {
		return "", false
	}
	return l.url, true
}

func (l *DocumentLoader) Snapshot() DocumentSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *DocumentLoader) snapshotLocked() DocumentSnapshot {
	snap := DocumentSnapshot{
		State:   l.state,
		URL:     l.url,
		Attempt: l.attempt,
	}
	switch l.state {
	case DocumentLoaded:
		snap.PageCount = l.pageCount
		snap.CurrentPage = l.currentPage
	case DocumentUnavailable:
		snap.Message = msgNotYetAvailable
	case DocumentFailed, DocumentFallback:
		snap.Message = msgFailedToLoad
	}
	if l.lastErr != nil {
		snap.Error = l.lastErr.Error()
	}
	return snap
}
