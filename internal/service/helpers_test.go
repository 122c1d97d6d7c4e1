package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"paper_test_backend/internal/model"
	"paper_test_backend/internal/util"
)

const (
	pdfBytes = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n"
	pngBytes = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"
	mp4Bytes = "\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom"
)

func principal(u *model.User) util.Principal {
	return util.Principal{UserID: u.ID, Role: u.Role}
}

// memoryProvider 内存存储，可注入上传失败
type memoryProvider struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	uploadErr error
	onUpload  func()
}

func newMemoryStorage() (*StorageService, *memoryProvider) {
	p := &memoryProvider{objects: make(map[string][]byte)}
	return &StorageService{Provider: p}, p
}

func (p *memoryProvider) Upload(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (string, error) {
	if p.uploadErr != nil {
		return "", p.uploadErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.objects[util.ObjectPath(bucket, key)] = data
	p.mu.Unlock()
	if p.onUpload != nil {
		p.onUpload()
	}
	return p.GetURL(bucket, key), nil
}

func (p *memoryProvider) UploadFile(ctx context.Context, bucket, key, localPath, contentType string) (string, error) {
	return "", errors.New("not supported")
}

func (p *memoryProvider) Delete(ctx context.Context, bucket, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	path := util.ObjectPath(bucket, key)
	delete(p.objects, path)
	p.deleted = append(p.deleted, path)
	return nil
}

func (p *memoryProvider) GetURL(bucket, key string) string {
	return "/uploads/" + bucket + "/" + key
}

func (p *memoryProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

func (p *memoryProvider) has(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.objects[path]
	return ok
}

func upload(name, content string) *FileUpload {
	return &FileUpload{Reader: strings.NewReader(content), Size: int64(len(content)), Filename: name}
}
