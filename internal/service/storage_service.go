package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"paper_test_backend/internal/config"
	"paper_test_backend/internal/util"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// StorageProvider 定义通用存储接口，bucket 为逻辑存储桶（test_files、answer_images、task_attachments）
type StorageProvider interface {
	Upload(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (string, error)
	UploadFile(ctx context.Context, bucket, key, localPath, contentType string) (string, error)
	Delete(ctx context.Context, bucket, key string) error
	GetURL(bucket, key string) string
}

// S3/OSS 的存储桶名不允许下划线
func physicalBucket(bucket string) string {
	return strings.ReplaceAll(bucket, "_", "-")
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// LocalStorageProvider 本地存储实现
type LocalStorageProvider struct {
	Config *config.StorageConfig
}

func (p *LocalStorageProvider) path(bucket, key string) (string, error) {
	dst := filepath.Join(p.Config.LocalPath, bucket, filepath.Clean("/"+key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}
	return dst, nil
}

func (p *LocalStorageProvider) Upload(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (string, error) {
	dst, err := p.path(bucket, key)
	if err != nil {
		return "", err
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, reader); err != nil {
		os.Remove(dst)
		return "", err
	}
	return p.GetURL(bucket, key), nil
}

func (p *LocalStorageProvider) UploadFile(ctx context.Context, bucket, key, localPath, contentType string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	return p.Upload(ctx, bucket, key, src, -1, contentType)
}

func (p *LocalStorageProvider) Delete(ctx context.Context, bucket, key string) error {
	dst := filepath.Join(p.Config.LocalPath, bucket, filepath.Clean("/"+key))
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (p *LocalStorageProvider) GetURL(bucket, key string) string {
	return joinURL(p.Config.PublicBaseURL, "/uploads/"+bucket+"/"+key)
}

// MinioStorageProvider MinIO存储实现，每个逻辑存储桶对应一个 MinIO bucket
type MinioStorageProvider struct {
	Config  *config.StorageConfig
	Client  *minio.Client
	ensured sync.Map
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

func (p *MinioStorageProvider) ensureBucket(ctx context.Context, bucket string) (string, error) {
	name := physicalBucket(bucket)
	if _, ok := p.ensured.Load(name); ok {
		return name, nil
	}
	exists, err := p.Client.BucketExists(ctx, name)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := p.Client.MakeBucket(ctx, name, minio.MakeBucketOptions{}); err != nil {
			return "", err
		}
	}
	p.ensured.Store(name, struct{}{})
	return name, nil
}

func (p *MinioStorageProvider) Upload(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (string, error) {
	name, err := p.ensureBucket(ctx, bucket)
	if err != nil {
		return "", err
	}
	_, err = p.Client.PutObject(ctx, name, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.GetURL(bucket, key), nil
}

func (p *MinioStorageProvider) UploadFile(ctx context.Context, bucket, key, localPath, contentType string) (string, error) {
	name, err := p.ensureBucket(ctx, bucket)
	if err != nil {
		return "", err
	}
	_, err = p.Client.FPutObject(ctx, name, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.GetURL(bucket, key), nil
}

func (p *MinioStorageProvider) Delete(ctx context.Context, bucket, key string) error {
	return p.Client.RemoveObject(ctx, physicalBucket(bucket), key, minio.RemoveObjectOptions{})
}

func (p *MinioStorageProvider) GetURL(bucket, key string) string {
	if p.Config.PublicBaseURL != "" {
		return joinURL(p.Config.PublicBaseURL, physicalBucket(bucket)+"/"+key)
	}
	return "/" + physicalBucket(bucket) + "/" + key
}

// OSSStorageProvider 阿里云OSS存储实现
type OSSStorageProvider struct {
	Config *config.StorageConfig
	Client *oss.Client
}

func NewOSSStorageProvider(cfg *config.StorageConfig) (*OSSStorageProvider, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	return &OSSStorageProvider{Config: cfg, Client: client}, nil
}

func (p *OSSStorageProvider) Upload(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (string, error) {
	b, err := p.Client.Bucket(physicalBucket(bucket))
	if err != nil {
		return "", err
	}

	if err := b.PutObject(key, reader, oss.ContentType(contentType)); err != nil {
		return "", err
	}
	return p.GetURL(bucket, key), nil
}

func (p *OSSStorageProvider) UploadFile(ctx context.Context, bucket, key, localPath, contentType string) (string, error) {
	b, err := p.Client.Bucket(physicalBucket(bucket))
	if err != nil {
		return "", err
	}

	if err := b.PutObjectFromFile(key, localPath, oss.ContentType(contentType)); err != nil {
		return "", err
	}
	return p.GetURL(bucket, key), nil
}

func (p *OSSStorageProvider) Delete(ctx context.Context, bucket, key string) error {
	b, err := p.Client.Bucket(physicalBucket(bucket))
	if err != nil {
		return err
	}
	return b.DeleteObject(key)
}

func (p *OSSStorageProvider) GetURL(bucket, key string) string {
	if p.Config.PublicBaseURL != "" {
		return joinURL(p.Config.PublicBaseURL, physicalBucket(bucket)+"/"+key)
	}
	return fmt.Sprintf("https://%s.%s/%s", physicalBucket(bucket), p.Config.OSSEndpoint, key)
}

// StorageService 存储服务
type StorageService struct {
	Provider StorageProvider
}

func NewStorageService(cfg *config.StorageConfig) (*StorageService, error) {
	var provider StorageProvider
	switch cfg.Type {
	case util.StorageMinio:
		p, err := NewMinioStorageProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		provider = p
	case util.StorageOSS:
		p, err := NewOSSStorageProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("init oss storage: %w", err)
		}
		provider = p
	default:
		provider = &LocalStorageProvider{Config: cfg}
	}
	return &StorageService{Provider: provider}, nil
}

func (s *StorageService) Upload(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (string, error) {
	return s.Provider.Upload(ctx, bucket, key, reader, size, contentType)
}

func (s *StorageService) UploadFile(ctx context.Context, bucket, key, localPath, contentType string) (string, error) {
	return s.Provider.UploadFile(ctx, bucket, key, localPath, contentType)
}

func (s *StorageService) Delete(ctx context.Context, bucket, key string) error {
	return s.Provider.Delete(ctx, bucket, key)
}

// DeleteObject 按 ObjectPath 删除对象
func (s *StorageService) DeleteObject(ctx context.Context, path string) error {
	bucket, key, ok := util.SplitObjectPath(path)
	if !ok {
		return fmt.Errorf("invalid object path %q", path)
	}
	return s.Provider.Delete(ctx, bucket, key)
}

func (s *StorageService) GetURL(bucket, key string) string {
	return s.Provider.GetURL(bucket, key)
}
