package util

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"paper_test_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffAndCheckMimeType(t *testing.T) {
	pdf := []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	mime, err := SniffMimeType(bytes.NewReader(pdf))
	require.NoError(t, err)
	assert.Equal(t, MimePDF, mime)
	assert.NoError(t, CheckMimeType(mime, MimePDF))

	mime, err = SniffMimeType(bytes.NewReader(png))
	require.NoError(t, err)
	assert.True(t, IsImage(mime))

	err = CheckMimeType(mime, MimePDF)
	assert.True(t, errors.Is(err, ErrInvalidFileType))
}

func TestFileExt(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		mime     string
		want     string
	}{
		{name: "keeps extension", filename: "Answer.JPG", mime: "image/jpeg", want: ".jpg"},
		{name: "infers pdf", filename: "paper", mime: MimePDF, want: ".pdf"},
		{name: "infers png", filename: "", mime: "image/png", want: ".png"},
		{name: "unknown", filename: "blob", mime: "application/zip", want: ".bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileExt(tt.filename, tt.mime))
		})
	}
}

func TestJWTRoundTrip(t *testing.T) {
	user := &model.User{Email: "t@test.test", Role: model.Teacher}
	user.ID = 7

	token, err := GenerateJWT(user, "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.True(t, claims.Principal().IsTeacher())

	_, err = ParseJWT(token, "other")
	assert.Error(t, err)

	expired, err := GenerateJWT(user, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(expired, "secret")
	assert.Error(t, err)
}

func TestParsePositiveInt(t *testing.T) {
	n, err := ParsePositiveInt("3")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = ParsePositiveInt("0")
	assert.Error(t, err)
	_, err = ParsePositiveInt("x")
	assert.Error(t, err)
}

func TestParseProbeOutput(t *testing.T) {
	out := `{"streams":[{"codec_type":"audio"},{"codec_type":"video","width":1280,"height":720}],"format":{"duration":"12.5"}}`
	info, err := parseProbeOutput(out)
	require.NoError(t, err)
	assert.Equal(t, 12.5, info.Duration)
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)

	_, err = parseProbeOutput("not json")
	assert.Error(t, err)
}
