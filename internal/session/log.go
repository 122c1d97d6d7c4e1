package session

import (
	"paper_test_backend/pkg/logger"

	"go.uber.org/zap"
)

func log() *zap.Logger {
	return logger.Named("session")
}
