package model

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
)

func (r UserRole) Valid() bool {
	return r == Student || r == Teacher
}

// swagger:model User
type User struct {
	BaseModel
	Name     string   `gorm:"size:100;not null" json:"name"`
	Email    string   `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Password string   `gorm:"size:100;not null" json:"-"`
	Role     UserRole `gorm:"size:20;default:'student'" json:"role"`
}

func (User) TableName() string {
	return "users"
}
