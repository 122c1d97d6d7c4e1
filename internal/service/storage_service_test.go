package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paper_test_backend/internal/config"
	"paper_test_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageProvider(t *testing.T) {
	root := t.TempDir()
	svc, err := NewStorageService(&config.StorageConfig{Type: util.StorageLocal, LocalPath: root})
	require.NoError(t, err)
	ctx := context.Background()

	url, err := svc.Upload(ctx, util.BucketAnswerImages, "sub_1_abc.png", strings.NewReader("png"), 3, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/answer_images/sub_1_abc.png", url)

	data, err := os.ReadFile(filepath.Join(root, util.BucketAnswerImages, "sub_1_abc.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	require.NoError(t, svc.DeleteObject(ctx, util.ObjectPath(util.BucketAnswerImages, "sub_1_abc.png")))
	_, err = os.Stat(filepath.Join(root, util.BucketAnswerImages, "sub_1_abc.png"))
	assert.True(t, os.IsNotExist(err))

	// 重复删除不报错
	assert.NoError(t, svc.Delete(ctx, util.BucketAnswerImages, "sub_1_abc.png"))
}

func TestLocalStorageKeysStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	svc, err := NewStorageService(&config.StorageConfig{Type: util.StorageLocal, LocalPath: root})
	require.NoError(t, err)

	_, err = svc.Upload(context.Background(), util.BucketTestFiles, "../../escape.pdf", strings.NewReader("x"), 1, util.MimePDF)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, util.BucketTestFiles, "escape.pdf"))
	assert.NoError(t, err)
}

func TestObjectPath(t *testing.T) {
	tests := []struct {
		path   string
		bucket string
		key    string
		ok     bool
	}{
		{path: "test_files/a.pdf", bucket: "test_files", key: "a.pdf", ok: true},
		{path: "answer_images/s_1_x.png", bucket: "answer_images", key: "s_1_x.png", ok: true},
		{path: "nokey", ok: false},
		{path: "/a.pdf", ok: false},
		{path: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			bucket, key, ok := util.SplitObjectPath(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
	assert.Equal(t, "answer-images", physicalBucket(util.BucketAnswerImages))
}
