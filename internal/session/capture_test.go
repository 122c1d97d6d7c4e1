package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paper_test_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerStoreStage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s1")
	store := NewAnswerStore(3, dir)

	tests := []struct {
		name    string
		q       int
		content string
		wantErr func(error) bool
	}{
		{"valid image", 2, pngBytes, nil},
		{"question zero", 0, pngBytes, func(err error) bool {
			var pe *PreconditionError
			return errors.As(err, &pe)
		}},
		{"question beyond count", 4, pngBytes, func(err error) bool {
			var pe *PreconditionError
			return errors.As(err, &pe)
		}},
		{"not an image", 1, "%PDF-1.4\n", func(err error) bool { return errors.Is(err, util.ErrInvalidFileType) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := store.Stage(tt.q, "answer.png", strings.NewReader(tt.content))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), "unexpected error %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.q, file.QuestionNumber)
			assert.Equal(t, "image/png", file.ContentType)
			assert.Equal(t, int64(len(tt.content)), file.Size)
			assert.FileExists(t, file.StagedPath)
		})
	}

	assert.Equal(t, 1, store.Len())
}

func TestAnswerStoreRejectsOversizedImage(t *testing.T) {
	store := NewAnswerStore(1, t.TempDir())
	store.maxSize = 32

	_, err := store.Stage(1, "big.png", strings.NewReader(pngBytes+strings.Repeat("x", 64)))
	assert.ErrorIs(t, err, util.ErrFileTooLarge)
	assert.Equal(t, 0, store.Len())
}

func TestAnswerStoreReplaceReleasesPrevious(t *testing.T) {
	store, err := stageAnswers(t.TempDir(), 3, 1)
	require.NoError(t, err)
	first, ok := store.Get(1)
	require.True(t, ok)

	second, err := store.Stage(1, "retake.png", strings.NewReader(pngBytes))
	require.NoError(t, err)

	assert.NoFileExists(t, first.StagedPath)
	assert.FileExists(t, second.StagedPath)
	got, _ := store.Get(1)
	assert.Equal(t, "retake.png", got.Filename)
	assert.NotEqual(t, first.PreviewID, got.PreviewID)
	assert.Equal(t, 1, store.Len())
}

func TestAnswerStoreCaptureDoesNotRegister(t *testing.T) {
	store, err := stageAnswers(t.TempDir(), 3, 1)
	require.NoError(t, err)
	first, _ := store.Get(1)

	captured, err := store.Capture(1, "retake.png", strings.NewReader(pngBytes))
	require.NoError(t, err)
	assert.FileExists(t, captured.StagedPath)
	got, _ := store.Get(1)
	assert.Equal(t, first.PreviewID, got.PreviewID)

	store.Discard(captured)
	assert.NoFileExists(t, captured.StagedPath)
	assert.FileExists(t, first.StagedPath)
	assert.Equal(t, 1, store.Len())
}

func TestAnswerStoreListIsAscending(t *testing.T) {
	store, err := stageAnswers(t.TempDir(), 5, 4, 1, 3)
	require.NoError(t, err)

	var questions []int
	for _, f := range store.List() {
		questions = append(questions, f.QuestionNumber)
	}
	assert.Equal(t, []int{1, 3, 4}, questions)
}

func TestAnswerStoreReleaseAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	store, err := stageAnswers(dir, 3, 1, 2)
	require.NoError(t, err)
	files := store.List()

	store.ReleaseAll()

	assert.Equal(t, 0, store.Len())
	for _, f := range files {
		assert.NoFileExists(t, f.StagedPath)
	}
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
