// Package testutil 提供测试用的数据库与数据构造工具
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"paper_test_backend/internal/model"
	"paper_test_backend/pkg/database"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB 打开一个临时 SQLite 数据库并完成迁移，测试结束时自动关闭
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("OpenDB() migrate failed: %v", err)
	}
	return db
}

func CreateUser(t *testing.T, db *gorm.DB, name string, role model.UserRole) *model.User {
	t.Helper()
	user := &model.User{Name: name, Email: name + "@test.test", Password: "x", Role: role}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return user
}

func CreateTest(t *testing.T, db *gorm.DB, teacherID uint, numQuestions, minutes int) *model.Test {
	t.Helper()
	test := &model.Test{
		Title:           "Algebra",
		PDFURL:          model.PlaceholderPDFURL,
		NumQuestions:    numQuestions,
		DurationMinutes: minutes,
		CreatedBy:       teacherID,
	}
	if err := db.Create(test).Error; err != nil {
		t.Fatalf("CreateTest() failed: %v", err)
	}
	return test
}

func CreateTask(t *testing.T, db *gorm.DB, teacherID uint, due time.Time) *model.Task {
	t.Helper()
	task := &model.Task{Title: "Read chapter 3", DueDate: due, CreatedBy: teacherID, Status: model.TaskActive}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	return task
}
