package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

// 存储桶
const (
	BucketTestFiles       = "test_files"
	BucketAnswerImages    = "answer_images"
	BucketTaskAttachments = "task_attachments"
)

// 各类上传的大小上限
const (
	MaxTestFileSize       int64 = 10 << 20
	MaxAnswerImageSize    int64 = 5 << 20
	MaxTaskAttachmentSize int64 = 50 << 20
)

const (
	MimeVideo = "video/"
	MimeImage = "image/"
	MimePDF   = "application/pdf"
)
