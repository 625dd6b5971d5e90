package procureauth

import "github.com/go-logr/logr"

const loggerName = "procureauth"

func resolveLogger(logger logr.Logger) logr.Logger {
	if logger.GetSink() == nil {
		return logr.Discard()
	}
	return logger.WithName(loggerName)
}
