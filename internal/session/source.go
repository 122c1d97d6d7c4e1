package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"paper_test_backend/internal/util"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var disablePDFConfigDir sync.Once

// HTTPDocumentSource 通过 HTTP 下载试卷 PDF 并用 pdfcpu 统计页数
type HTTPDocumentSource struct {
	Client *http.Client
	// BaseURL 用于解析本地存储返回的相对地址（如 /uploads/...）
	BaseURL string
	MaxSize int64
}

func NewHTTPDocumentSource(baseURL string, timeout time.Duration) *HTTPDocumentSource {
	disablePDFConfigDir.Do(api.DisableConfigDir)
	return &HTTPDocumentSource{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: baseURL,
		MaxSize: util.MaxTestFileSize,
	}
}

func (s *HTTPDocumentSource) resolve(url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(url, "/")
}

func (s *HTTPDocumentSource) Open(ctx context.Context, url string) (*Document, error) {
	target := s.resolve(url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrDocumentNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if int64(len(data)) > s.MaxSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", util.ErrFileTooLarge, s.MaxSize)
	}

	pages, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	return &Document{URL: url, PageCount: pages}, nil
}
