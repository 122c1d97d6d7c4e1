package session

import (
	"context"
	"testing"
	"time"

	"paper_test_backend/internal/model"
	"paper_test_backend/internal/repository"
	"paper_test_backend/internal/service"
	"paper_test_backend/internal/testutil"
	"paper_test_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 到期自动交卷后教师评分，走真实的仓储与服务层
func TestExpiredSessionIsPersistedAndGraded(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	teacher := testutil.CreateUser(t, db, "teacher", model.Teacher)
	student := testutil.CreateUser(t, db, "student", model.Student)
	test := testutil.CreateTest(t, db, teacher.ID, 3, 1)

	testRepo := repository.NewTestRepository(db)
	tests := service.NewTestService(testRepo, nil, nil)
	submissions := service.NewSubmissionService(repository.NewSubmissionRepository(db), testRepo, nil)

	clock := newManualClock()
	blobs := newFakeBlobs()
	source := &fakeSource{}
	manager := NewManager(tests, submissions, blobs, source, nil, Options{
		MaxRetries:        3,
		UploadConcurrency: 2,
		StagingDir:        t.TempDir(),
		Clock:             clock,
	})
	defer manager.Shutdown()

	studentP := util.Principal{UserID: student.ID, Role: model.Student}
	teacherP := util.Principal{UserID: teacher.ID, Role: model.Teacher}

	s, err := manager.Start(ctx, studentP, test.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Document().State() == DocumentUnavailable }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, source.Opens(), "placeholder documents are never fetched")

	answer(t, s, 1, 3)
	clock.Advance(time.Minute)
	s.Countdown().tick()

	result, done := s.Result()
	require.True(t, done)
	assert.Equal(t, TriggerExpired, result.Trigger)

	list, err := submissions.ListByTest(ctx, teacherP, test.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	sub := list[0]
	assert.Equal(t, result.SubmissionID, sub.ID)
	assert.Equal(t, student.ID, sub.StudentID)
	require.Len(t, sub.Answers, 2)
	assert.Equal(t, 1, sub.Answers[0].QuestionNumber)
	assert.Equal(t, 3, sub.Answers[1].QuestionNumber)
	assert.False(t, sub.Graded)

	score := 2.5
	graded, err := submissions.Grade(ctx, teacherP, sub.ID, service.GradeRequest{Score: &score, Feedback: "Good work"})
	require.NoError(t, err)
	assert.True(t, graded.Graded)
	require.NotNil(t, graded.Score)
	assert.Equal(t, 2.5, *graded.Score)
	assert.Equal(t, "Good work", graded.Feedback)

	_, err = manager.Start(ctx, studentP, test.ID)
	assert.ErrorIs(t, err, util.ErrAlreadySubmitted)
}
