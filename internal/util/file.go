package util

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// SniffMimeType 读取前 512 字节判断真实 MIME 类型，调用方需自行回退读取位置
func SniffMimeType(reader io.Reader) (string, error) {
	buffer := make([]byte, 512)
	n, err := io.ReadFull(reader, buffer)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	return http.DetectContentType(buffer[:n]), nil
}

// CheckMimeType 校验 MIME 类型是否属于允许的前缀或完整类型
func CheckMimeType(mimeType string, allowedTypes ...string) error {
	for _, allowed := range allowedTypes {
		if strings.HasPrefix(mimeType, allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidFileType, mimeType)
}

func IsImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, MimeImage)
}

func IsVideo(mimeType string) bool {
	return strings.HasPrefix(mimeType, MimeVideo)
}

// FileExt 返回小写扩展名（含点），无扩展名时根据 MIME 推断
func FileExt(filename, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != "" {
		return ext
	}
	switch {
	case mimeType == MimePDF:
		return ".pdf"
	case mimeType == "image/png":
		return ".png"
	case mimeType == "image/jpeg":
		return ".jpg"
	case mimeType == "image/webp":
		return ".webp"
	case mimeType == "video/mp4":
		return ".mp4"
	}
	return ".bin"
}

// RandomKey 生成存储对象名中的随机片段
func RandomKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// ObjectPath 数据库中保存的对象路径 "<bucket>/<key>"
func ObjectPath(bucket, key string) string {
	return bucket + "/" + key
}

// SplitObjectPath 拆分 ObjectPath 生成的路径
func SplitObjectPath(path string) (bucket, key string, ok bool) {
	bucket, key, ok = strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
