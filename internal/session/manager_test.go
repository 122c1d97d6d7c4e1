package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"paper_test_backend/internal/config"
	"paper_test_backend/internal/model"
	"paper_test_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTests map[string]model.Test

func (f fakeTests) GetTest(ctx context.Context, id string) (*model.Test, error) {
	t, ok := f[id]
	if !ok {
		return nil, util.ErrTestNotFound
	}
	return &t, nil
}

var (
	alice = util.Principal{UserID: 21, Role: model.Student}
	bob   = util.Principal{UserID: 22, Role: model.Student}
	carol = util.Principal{UserID: 1, Role: model.Teacher}
)

type managerFixture struct {
	manager   *Manager
	clock     *manualClock
	store     *fakeStore
	blobs     *fakeBlobs
	source    *fakeSource
	publisher *recordingPublisher
	staging   string
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		clock:     newManualClock(),
		store:     newFakeStore(),
		blobs:     newFakeBlobs(),
		source:    &fakeSource{pages: 2},
		publisher: &recordingPublisher{},
		staging:   t.TempDir(),
	}
	tests := fakeTests{
		"algebra": {UUIDBase: model.UUIDBase{ID: "algebra"}, Title: "Algebra", PDFURL: docURL, NumQuestions: 3, DurationMinutes: 1},
	}
	f.manager = NewManager(tests, f.store, f.blobs, f.source, f.publisher, Options{
		MaxRetries:        3,
		UploadConcurrency: 2,
		StagingDir:        f.staging,
		Clock:             f.clock,
	})
	t.Cleanup(f.manager.Shutdown)
	return f
}

func (f *managerFixture) start(t *testing.T, p util.Principal) *Session {
	t.Helper()
	s, err := f.manager.Start(context.Background(), p, "algebra")
	require.NoError(t, err)
	return s
}

func answer(t *testing.T, s *Session, qs ...int) {
	t.Helper()
	for _, q := range qs {
		_, err := s.SetAnswer(q, "photo.png", strings.NewReader(pngBytes))
		require.NoError(t, err)
	}
}

// expireNow 推进时钟到截止时间并同步执行一次计时检查
func (f *managerFixture) expireNow(s *Session) {
	f.clock.Advance(time.Duration(s.Test.DurationMinutes) * time.Minute)
	s.Countdown().tick()
}

func TestManagerStartRules(t *testing.T) {
	f := newManagerFixture(t)

	first := f.start(t, alice)
	assert.Equal(t, StateInProgress, first.State())
	assert.Equal(t, 60, first.Remaining())

	again := f.start(t, alice)
	assert.Same(t, first, again, "second start resumes the running session")

	other := f.start(t, bob)
	assert.NotEqual(t, first.ID, other.ID)

	_, err := f.manager.Start(context.Background(), carol, "algebra")
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	_, err = f.manager.Start(context.Background(), alice, "missing")
	assert.ErrorIs(t, err, util.ErrTestNotFound)

	assert.Equal(t, 2, f.manager.Len())
}

func TestManagerStartLoadsDocumentInBackground(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)

	require.Eventually(t, func() bool { return s.Document().State() == DocumentLoaded }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.Document().PageCount())
	assert.Equal(t, 1, f.source.Opens())
}

func TestManagerGetChecksOwnership(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)

	got, err := f.manager.Get(alice, s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = f.manager.Get(bob, s.ID)
	assert.ErrorIs(t, err, util.ErrSessionNotOwned)

	_, err = f.manager.Get(alice, "nope")
	assert.ErrorIs(t, err, util.ErrSessionNotFound)
}

func TestSessionExpiryFinishesAutomatically(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)
	answer(t, s, 1, 3)

	f.expireNow(s)

	result, done := s.Result()
	require.True(t, done)
	assert.Equal(t, StateFinished, s.State())
	assert.Equal(t, TriggerExpired, result.Trigger)
	require.Len(t, result.Answers, 2)
	assert.Equal(t, 1, result.Answers[0].QuestionNumber)
	assert.Equal(t, 3, result.Answers[1].QuestionNumber)
	assert.Equal(t, 1, f.store.Created())

	types := f.publisher.Types()
	assert.Contains(t, types, EventExpired)
	assert.Contains(t, types, EventFinished)
	assert.Equal(t, 1, f.publisher.Count(EventFinished))

	_, err := s.SetAnswer(2, "late.png", strings.NewReader(pngBytes))
	var pe *PreconditionError
	assert.ErrorAs(t, err, &pe)
	assert.Empty(t, s.Answers(), "staged answers are released after finishing")
}

func TestSessionManualFinishNeedsConfirmation(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)
	answer(t, s, 2)

	_, err := f.manager.Finish(context.Background(), alice, s.ID, false)
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StateInProgress, s.State())
	assert.Equal(t, 0, f.store.Created())

	result, err := f.manager.Finish(context.Background(), alice, s.ID, true)
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, result.Trigger)
	assert.Equal(t, StateFinished, s.State())
}

func TestSessionConcurrentFinishRunsOnce(t *testing.T) {
	f := newManagerFixture(t)
	f.store.gate = make(chan struct{})
	s := f.start(t, alice)
	answer(t, s, 1)

	var wg sync.WaitGroup
	results := make([]*FinishResult, 3)
	errs := make([]error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.manager.Finish(context.Background(), alice, s.ID, true)
	}()
	require.Eventually(t, func() bool { return s.State() == StateFinishing }, time.Second, time.Millisecond)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.manager.Finish(context.Background(), alice, s.ID, true)
	}()
	go func() {
		defer wg.Done()
		f.expireNow(s)
		results[2], errs[2] = s.Finish(context.Background(), TriggerExpired, true)
	}()

	time.Sleep(20 * time.Millisecond)
	close(f.store.gate)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, results[0].SubmissionID, results[i].SubmissionID)
	}
	assert.Equal(t, 1, f.store.Created())
	assert.Equal(t, 1, f.publisher.Count(EventFinished))
}

func TestSessionExpiryDuringManualFinishJoins(t *testing.T) {
	f := newManagerFixture(t)
	f.store.gate = make(chan struct{})
	s := f.start(t, alice)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.expireNow(s)
	}()
	require.Eventually(t, func() bool { return s.State() == StateFinishing }, time.Second, time.Millisecond)

	resultCh := make(chan *FinishResult, 1)
	go func() {
		r, _ := f.manager.Finish(context.Background(), alice, s.ID, false)
		resultCh <- r
	}()
	close(f.store.gate)
	<-done

	r := <-resultCh
	require.NotNil(t, r)
	assert.Equal(t, TriggerExpired, r.Trigger)
	assert.Equal(t, 1, f.store.Created())
}

func TestSessionPersistenceFailureAllowsRetry(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)
	answer(t, s, 1)
	f.store.setCreateErr(errors.New("connection refused"))

	_, err := f.manager.Finish(context.Background(), alice, s.ID, true)
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.Equal(t, StateInProgress, s.State())
	assert.Equal(t, 0, f.blobs.Uploads())
	assert.Equal(t, 1, f.publisher.Count(EventFailed))
	_, ok := s.Answer(1)
	assert.True(t, ok, "answers survive a failed finish")

	f.store.setCreateErr(nil)
	result, err := f.manager.Finish(context.Background(), alice, s.ID, true)
	require.NoError(t, err)
	assert.Len(t, result.Answers, 1)
}

func TestSessionPersistenceFailureAfterExpiryStaysExpired(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)
	f.store.setCreateErr(errors.New("connection refused"))

	f.expireNow(s)
	assert.Equal(t, StateExpired, s.State())

	f.store.setCreateErr(nil)
	result, err := f.manager.Finish(context.Background(), alice, s.ID, false)
	require.NoError(t, err)
	assert.Equal(t, TriggerExpired, result.Trigger)
}

func TestSessionExpiryDuringFailedManualFinishSubmitsAutomatically(t *testing.T) {
	f := newManagerFixture(t)
	f.store.gate = make(chan struct{})
	f.store.failCreates = 1
	s := f.start(t, alice)
	answer(t, s, 1)

	manualErr := make(chan error, 1)
	go func() {
		_, err := f.manager.Finish(context.Background(), alice, s.ID, true)
		manualErr <- err
	}()
	require.Eventually(t, func() bool { return s.State() == StateFinishing }, time.Second, time.Millisecond)

	f.expireNow(s)
	require.True(t, s.Countdown().Expired())
	close(f.store.gate)

	assert.True(t, IsPersistenceError(<-manualErr))
	require.Eventually(t, func() bool { return s.State() == StateFinished }, time.Second, time.Millisecond)

	result, _ := s.Result()
	require.NotNil(t, result)
	assert.Equal(t, TriggerExpired, result.Trigger)
	assert.Len(t, result.Answers, 1)
	assert.Equal(t, 1, f.store.Created())
	assert.Equal(t, 1, f.publisher.Count(EventFailed))
	assert.Equal(t, 1, f.publisher.Count(EventExpired))
}

func TestSessionReplacementDuringFinishKeepsSubmittedAnswer(t *testing.T) {
	f := newManagerFixture(t)
	f.store.gate = make(chan struct{})
	s := f.start(t, alice)
	answer(t, s, 1)
	original, _ := s.Answer(1)

	reader := newHeldReader(pngBytes)
	replaceErr := make(chan error, 1)
	go func() {
		_, err := s.SetAnswer(1, "retake.png", reader)
		replaceErr <- err
	}()
	<-reader.reading

	type finishOutcome struct {
		result *FinishResult
		err    error
	}
	finished := make(chan finishOutcome, 1)
	go func() {
		r, err := f.manager.Finish(context.Background(), alice, s.ID, true)
		finished <- finishOutcome{r, err}
	}()
	require.Eventually(t, func() bool { return s.State() == StateFinishing }, time.Second, time.Millisecond)

	close(reader.release)
	var pe *PreconditionError
	require.ErrorAs(t, <-replaceErr, &pe)
	assert.FileExists(t, original.StagedPath, "answer being submitted is kept")
	current, _ := s.Answer(1)
	assert.Equal(t, original.PreviewID, current.PreviewID)

	close(f.store.gate)
	out := <-finished
	require.NoError(t, out.err)
	assert.False(t, out.result.Partial())
	require.Len(t, out.result.Answers, 1)
	assert.Equal(t, 1, f.blobs.Len())
	assert.NoDirExists(t, filepath.Join(f.staging, s.ID), "rejected capture leaves nothing staged")
}

func TestSessionFinishAfterAbandon(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)
	require.NoError(t, f.manager.Abandon(alice, s.ID))

	result, err := s.Finish(context.Background(), TriggerManual, true)
	assert.Nil(t, result)
	var pe *PreconditionError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, f.store.Created())
}

func TestManagerStartRejectsAfterSubmission(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)
	_, err := f.manager.Finish(context.Background(), alice, s.ID, true)
	require.NoError(t, err)

	_, err = f.manager.Start(context.Background(), alice, "algebra")
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, util.ErrAlreadySubmitted)
}

func TestManagerAbandon(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)
	answer(t, s, 1, 2)
	staged := s.Answers()

	require.NoError(t, f.manager.Abandon(alice, s.ID))

	assert.Equal(t, 0, f.store.Created())
	for _, a := range staged {
		assert.NoFileExists(t, a.StagedPath)
	}
	_, err := f.manager.Get(alice, s.ID)
	assert.ErrorIs(t, err, util.ErrSessionNotFound)

	next := f.start(t, alice)
	assert.NotEqual(t, s.ID, next.ID)

	assert.ErrorIs(t, f.manager.Abandon(bob, next.ID), util.ErrSessionNotOwned)
}

func TestManagerPrune(t *testing.T) {
	f := newManagerFixture(t)
	finished := f.start(t, alice)
	_, err := f.manager.Finish(context.Background(), alice, finished.ID, true)
	require.NoError(t, err)
	active := f.start(t, bob)

	assert.Equal(t, 0, f.manager.Prune(time.Hour))
	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, 1, f.manager.Prune(time.Millisecond))

	_, err = f.manager.Get(alice, finished.ID)
	assert.ErrorIs(t, err, util.ErrSessionNotFound)
	_, err = f.manager.Get(bob, active.ID)
	assert.NoError(t, err)
}

func TestManagerPruneReleasesUnsubmittedExpiredSession(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)
	answer(t, s, 1)
	staged := s.Answers()
	f.store.setCreateErr(errors.New("connection refused"))

	f.expireNow(s)
	require.Equal(t, StateExpired, s.State())

	assert.Equal(t, 0, f.manager.Prune(time.Hour))
	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, 1, f.manager.Prune(time.Millisecond))

	_, err := f.manager.Get(alice, s.ID)
	assert.ErrorIs(t, err, util.ErrSessionNotFound)
	for _, a := range staged {
		assert.NoFileExists(t, a.StagedPath)
	}
	assert.Equal(t, 0, f.store.Created())
}

func TestManagerCleanStaging(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)
	answer(t, s, 1)

	stale := filepath.Join(f.staging, "orphan")
	require.NoError(t, os.MkdirAll(stale, 0755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(filepath.Join(f.staging, s.ID), old, old))

	removed, err := f.manager.CleanStaging(24 * time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, filepath.Join(f.staging, s.ID))
}

func TestManagerApplyConfig(t *testing.T) {
	f := newManagerFixture(t)

	f.manager.ApplyConfig(config.SessionConfig{MaxRetries: 1, UploadConcurrency: 8, StagingDir: f.staging})

	assert.Equal(t, int32(8), f.manager.orchestrator.concurrency.Load())
	s := f.start(t, alice)
	assert.Equal(t, 1, s.Document().opts.MaxRetries)
	assert.Same(t, f.clock, s.Countdown().clock)
}

func TestSessionView(t *testing.T) {
	f := newManagerFixture(t)
	s := f.start(t, alice)
	answer(t, s, 2)

	view := s.View()
	assert.Equal(t, "algebra", view.TestID)
	assert.Equal(t, 3, view.NumQuestions)
	assert.Equal(t, StateInProgress, view.State)
	assert.Equal(t, 60, view.Remaining)
	require.Len(t, view.Answers, 1)
	assert.Equal(t, 2, view.Answers[0].QuestionNumber)

	ev := s.SnapshotEvent()
	assert.Equal(t, EventSnapshot, ev.Type)
	require.NotNil(t, ev.Session)
	assert.Equal(t, s.ID, ev.Session.ID)
}
