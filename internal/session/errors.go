package session

import (
	"errors"
	"fmt"
)

// ErrDocumentNotFound 文档来源返回“不存在”，按缺失资源处理，不重试
var ErrDocumentNotFound = errors.New("document not found")

// TransientLoadError 文档加载失败，可自动重试
type TransientLoadError struct {
	URL     string
	Attempt int
	Err     error
}

func (e *TransientLoadError) Error() string {
	return fmt.Sprintf("load %s (attempt %d): %v", e.URL, e.Attempt, e.Err)
}

func (e *TransientLoadError) Unwrap() error { return e.Err }

// MissingResourceError 文档地址缺失、为占位符或来源不存在
type MissingResourceError struct {
	URL string
	Err error
}

func (e *MissingResourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("document %q unavailable: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("document %q unavailable", e.URL)
}

func (e *MissingResourceError) Unwrap() error { return e.Err }

// UploadError 单题答题图片上传或登记失败，不影响其他题目
type UploadError struct {
	Question int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("question %d: %v", e.Question, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PreconditionError 操作前置条件不满足，不产生任何修改
type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// PersistenceError 提交记录创建失败，整个交卷流程中止
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func precondition(reason string) error {
	return &PreconditionError{Reason: reason}
}
