package repository

import (
	"context"
	"testing"

	"paper_test_backend/internal/model"
	"paper_test_backend/internal/testutil"
	"paper_test_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionCreateIsUniquePerStudent(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	teacher := testutil.CreateUser(t, db, "teacher", model.Teacher)
	student := testutil.CreateUser(t, db, "student", model.Student)
	test := testutil.CreateTest(t, db, teacher.ID, 3, 1)

	first := &model.Submission{TestID: test.ID, StudentID: student.ID}
	require.NoError(t, repo.Create(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.SubmittedAt.IsZero())

	err := repo.Create(ctx, &model.Submission{TestID: test.ID, StudentID: student.ID})
	assert.ErrorIs(t, err, util.ErrAlreadySubmitted)

	exists, err := repo.ExistsForStudent(ctx, test.ID, student.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSubmissionAnswersAreOrdered(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	teacher := testutil.CreateUser(t, db, "teacher", model.Teacher)
	student := testutil.CreateUser(t, db, "student", model.Student)
	test := testutil.CreateTest(t, db, teacher.ID, 3, 1)

	sub := &model.Submission{TestID: test.ID, StudentID: student.ID}
	require.NoError(t, repo.Create(ctx, sub))
	for _, q := range []int{3, 1} {
		require.NoError(t, repo.AddAnswerImage(ctx, &model.AnswerImage{
			SubmissionID:   sub.ID,
			QuestionNumber: q,
			ImageURL:       "/uploads/answer_images/q",
		}))
	}

	// 同一题号不允许出现两次
	err := repo.AddAnswerImage(ctx, &model.AnswerImage{SubmissionID: sub.ID, QuestionNumber: 1, ImageURL: "dup"})
	assert.Error(t, err)

	got, err := repo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, got.Answers, 2)
	assert.Equal(t, 1, got.Answers[0].QuestionNumber)
	assert.Equal(t, 3, got.Answers[1].QuestionNumber)
}

func TestSubmissionGradeOverwrites(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	teacher := testutil.CreateUser(t, db, "teacher", model.Teacher)
	student := testutil.CreateUser(t, db, "student", model.Student)
	test := testutil.CreateTest(t, db, teacher.ID, 3, 1)

	sub := &model.Submission{TestID: test.ID, StudentID: student.ID}
	require.NoError(t, repo.Create(ctx, sub))

	graded, err := repo.Grade(ctx, sub.ID, 2.5, "Good work")
	require.NoError(t, err)
	require.NotNil(t, graded.Score)
	assert.Equal(t, 2.5, *graded.Score)
	assert.Equal(t, "Good work", graded.Feedback)
	assert.True(t, graded.Graded)

	graded, err = repo.Grade(ctx, sub.ID, 1, "Revised")
	require.NoError(t, err)
	assert.Equal(t, 1.0, *graded.Score)
	assert.Equal(t, "Revised", graded.Feedback)
	assert.True(t, graded.Graded)

	_, err = repo.Grade(ctx, "missing", 1, "")
	assert.ErrorIs(t, err, util.ErrSubmissionNotFound)
}

func TestSubmissionDeleteReturnsStorageKeys(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	teacher := testutil.CreateUser(t, db, "teacher", model.Teacher)
	student := testutil.CreateUser(t, db, "student", model.Student)
	test := testutil.CreateTest(t, db, teacher.ID, 2, 1)

	sub := &model.Submission{TestID: test.ID, StudentID: student.ID}
	require.NoError(t, repo.Create(ctx, sub))
	require.NoError(t, repo.AddAnswerImage(ctx, &model.AnswerImage{SubmissionID: sub.ID, QuestionNumber: 1, ImageURL: "u1", StorageKey: "k1"}))
	require.NoError(t, repo.AddAnswerImage(ctx, &model.AnswerImage{SubmissionID: sub.ID, QuestionNumber: 2, ImageURL: "u2", StorageKey: "k2"}))

	deleted, keys, err := repo.Delete(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, student.ID, deleted.StudentID)
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)

	_, err = repo.FindByID(ctx, sub.ID)
	assert.ErrorIs(t, err, util.ErrSubmissionNotFound)

	// 物理删除后允许重新提交
	require.NoError(t, repo.Create(ctx, &model.Submission{TestID: test.ID, StudentID: student.ID}))
}
