package sinks

import "github.com/samvad-hq/review-watcher/internal/logger"

// Logger is the structured surface publishers report delivery results on.
type Logger = logger.Logger

func ensureLogger(log Logger) Logger { return logger.Ensure(log) }
