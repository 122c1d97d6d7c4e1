package util

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailRegistered    = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrTestNotFound       = errors.New("test not found")
	ErrTaskNotFound       = errors.New("task not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrAlreadySubmitted   = errors.New("already submitted")
	ErrInvalidScore       = errors.New("score must be a non-negative number")
	ErrInvalidFileType    = errors.New("invalid file type")
	ErrFileTooLarge       = errors.New("file too large")
	ErrAttachmentRequired = errors.New("attachment is required")
	ErrVideoTooLong       = errors.New("confirmation video too long")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionNotOwned    = errors.New("session belongs to another student")
	ErrTaskSubmissionGone = errors.New("task submission not found")
	ErrRegistrationClosed = errors.New("registration is disabled for demo identities")
	ErrDocumentMissing    = errors.New("test has no uploaded document")
)
