package model

import "time"

// swagger:model Submission
type Submission struct {
	UUIDBase
	TestID      string        `gorm:"type:varchar(36);not null;uniqueIndex:idx_submission_test_student" json:"testId"`
	StudentID   uint          `gorm:"not null;uniqueIndex:idx_submission_test_student" json:"studentId"`
	Answers     []AnswerImage `gorm:"foreignKey:SubmissionID" json:"answers"`
	SubmittedAt time.Time     `json:"submittedAt"`
	Score       *float64      `json:"score,omitempty"`
	Feedback    string        `gorm:"type:text" json:"feedback,omitempty"`
	Graded      bool          `gorm:"default:false" json:"graded"`
}

func (Submission) TableName() string {
	return "submissions"
}

// swagger:model AnswerImage
type AnswerImage struct {
	UUIDBase
	SubmissionID   string `gorm:"type:varchar(36);not null;uniqueIndex:idx_answer_submission_question" json:"-"`
	QuestionNumber int    `gorm:"not null;uniqueIndex:idx_answer_submission_question" json:"questionNumber"`
	ImageURL       string `gorm:"size:512;not null" json:"imageUrl"`
	StorageKey     string `gorm:"size:255" json:"-"`
}

func (AnswerImage) TableName() string {
	return "answer_images"
}
