package model

import "time"

type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
)

type TaskSubmissionStatus string

const (
	TaskSubmitted TaskSubmissionStatus = "submitted"
	TaskReviewed  TaskSubmissionStatus = "reviewed"
)

// swagger:model Task
type Task struct {
	UUIDBase
	Title         string     `gorm:"size:255;not null" json:"title"`
	Description   string     `gorm:"type:text" json:"description,omitempty"`
	DueDate       time.Time  `gorm:"index" json:"dueDate"`
	CreatedBy     uint       `gorm:"index;not null" json:"createdBy"`
	AttachmentURL string     `gorm:"size:512" json:"attachmentUrl,omitempty"`
	AttachmentKey string     `gorm:"size:255" json:"-"`
	Status        TaskStatus `gorm:"size:20;default:'active'" json:"status"`
}

func (Task) TableName() string {
	return "tasks"
}

// swagger:model TaskSubmission
type TaskSubmission struct {
	UUIDBase
	TaskID        string               `gorm:"type:varchar(36);not null;uniqueIndex:idx_task_submission_task_student" json:"taskId"`
	StudentID     uint                 `gorm:"not null;uniqueIndex:idx_task_submission_task_student" json:"studentId"`
	SubmittedAt   time.Time            `json:"submittedAt"`
	Status        TaskSubmissionStatus `gorm:"size:20;default:'submitted'" json:"status"`
	Feedback      string               `gorm:"type:text" json:"feedback,omitempty"`
	AttachmentURL string               `gorm:"size:512" json:"attachmentUrl,omitempty"`
	AttachmentKey string               `gorm:"size:255" json:"-"`
}

func (TaskSubmission) TableName() string {
	return "task_submissions"
}
