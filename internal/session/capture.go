package session

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"paper_test_backend/internal/util"

	"go.uber.org/zap"
)

// CapturedFile 已暂存到本地、尚未上传的答题图片
type CapturedFile struct {
	QuestionNumber int       `json:"questionNumber"`
	Filename       string    `json:"filename"`
	ContentType    string    `json:"contentType"`
	Size           int64     `json:"size"`
	PreviewID      string    `json:"previewId"`
	CapturedAt     time.Time `json:"capturedAt"`
	StagedPath     string    `json:"-"`
}

// release 释放预览句柄（删除暂存文件）
func (f *CapturedFile) release() {
	if f == nil || f.StagedPath == "" {
		return
	}
	if err := os.Remove(f.StagedPath); err != nil && !os.IsNotExist(err) {
		log().Warn("failed to release staged answer",
			zap.Int("question", f.QuestionNumber),
			zap.String("path", f.StagedPath),
			zap.Error(err),
		)
	}
}

// AnswerStore 每题最多一张答题图片，捕获时不做任何网络 I/O
type AnswerStore struct {
	numQuestions int
	dir          string
	maxSize      int64

	mu      sync.Mutex
	entries map[int]*CapturedFile
}

func NewAnswerStore(numQuestions int, stagingDir string) *AnswerStore {
	return &AnswerStore{
		numQuestions: numQuestions,
		dir:          stagingDir,
		maxSize:      util.MaxAnswerImageSize,
		entries:      make(map[int]*CapturedFile),
	}
}

func (s *AnswerStore) checkQuestion(q int) error {
	if q < 1 || q > s.numQuestions {
		return &PreconditionError{Reason: fmt.Sprintf("question %d out of range 1..%d", q, s.numQuestions)}
	}
	return nil
}

// Stage 将上传内容写入暂存目录并登记为该题答案
func (s *AnswerStore) Stage(q int, filename string, r io.Reader) (*CapturedFile, error) {
	file, err := s.Capture(q, filename, r)
	if err != nil {
		return nil, err
	}
	if err := s.Set(q, file); err != nil {
		file.release()
		return nil, err
	}
	return file, nil
}

// Capture 只写入暂存文件，不登记；调用方负责 Set 或 Discard
func (s *AnswerStore) Capture(q int, filename string, r io.Reader) (*CapturedFile, error) {
	if err := s.checkQuestion(q); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf("q%d-*", q))
	if err != nil {
		return nil, err
	}
	size, err := io.Copy(tmp, io.LimitReader(r, s.maxSize+1))
	tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	if size > s.maxSize {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: answer images are limited to %d bytes", util.ErrFileTooLarge, s.maxSize)
	}

	mime, err := sniffFile(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	if !util.IsImage(mime) {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: %s", util.ErrInvalidFileType, mime)
	}

	return &CapturedFile{
		QuestionNumber: q,
		Filename:       filename,
		ContentType:    mime,
		Size:           size,
		PreviewID:      util.RandomKey(),
		CapturedAt:     time.Now(),
		StagedPath:     tmp.Name(),
	}, nil
}

// Discard 删除未登记的暂存文件
func (s *AnswerStore) Discard(file *CapturedFile) {
	file.release()
}

func sniffFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return util.SniffMimeType(f)
}

// Set 登记答案，替换已有答案时释放旧的预览句柄
func (s *AnswerStore) Set(q int, file *CapturedFile) error {
	if err := s.checkQuestion(q); err != nil {
		return err
	}
	file.QuestionNumber = q

	s.mu.Lock()
	prev := s.entries[q]
	s.entries[q] = file
	s.mu.Unlock()

	if prev != nil && prev != file {
		prev.release()
	}
	return nil
}

func (s *AnswerStore) Get(q int) (*CapturedFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.entries[q]
	return f, ok
}

// List 按题号升序返回
func (s *AnswerStore) List() []*CapturedFile {
	s.mu.Lock()
	out := make([]*CapturedFile, 0, len(s.entries))
	for _, f := range s.entries {
		out = append(out, f)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].QuestionNumber < out[j].QuestionNumber })
	return out
}

func (s *AnswerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ReleaseAll 释放全部预览句柄并清空
func (s *AnswerStore) ReleaseAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[int]*CapturedFile)
	s.mu.Unlock()

	for _, f := range entries {
		f.release()
	}
	os.Remove(s.dir)
}
