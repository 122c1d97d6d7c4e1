package model

// PlaceholderPDFURL 未上传试卷文件时对外暴露的地址
const PlaceholderPDFURL = "/placeholder.svg"

// swagger:model Test
type Test struct {
	UUIDBase
	Title           string `gorm:"size:255;not null" json:"title"`
	Description     string `gorm:"type:text" json:"description,omitempty"`
	PDFURL          string `gorm:"column:pdf_url;size:512" json:"pdfUrl"`
	PDFKey          string `gorm:"column:pdf_key;size:255" json:"-"`
	NumQuestions    int    `gorm:"not null" json:"numQuestions"`
	DurationMinutes int    `gorm:"not null" json:"durationMinutes"`
	CreatedBy       uint   `gorm:"index;not null" json:"createdBy"`
}

func (Test) TableName() string {
	return "tests"
}

// HasDocument 是否已上传试卷 PDF
func (t *Test) HasDocument() bool {
	return t.PDFURL != "" && t.PDFURL != PlaceholderPDFURL
}
