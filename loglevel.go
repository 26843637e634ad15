package framereader

import (
	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/framereader/logger"
)

// LogLevelToAstiav converts a logger level into the libav log level.
func LogLevelToAstiav(level logger.Level) astiav.LogLevel {
	switch level {
	case logger.LevelPanic:
		return astiav.LogLevelPanic
	case logger.LevelFatal:
		return astiav.LogLevelFatal
	case logger.LevelError:
		return astiav.LogLevelError
	case logger.LevelWarning:
		return astiav.LogLevelWarning
	case logger.LevelInfo:
		return astiav.LogLevelInfo
	case logger.LevelDebug:
		return astiav.LogLevelDebug
	case logger.LevelTrace:
		return astiav.LogLevelVerbose
	}
	return astiav.LogLevelInfo
}

// LogLevelFromAstiav converts a libav log level into the logger level.
func LogLevelFromAstiav(level astiav.LogLevel) logger.Level {
	switch level {
	case astiav.LogLevelPanic:
		return logger.LevelPanic
	case astiav.LogLevelFatal:
		return logger.LevelFatal
	case astiav.LogLevelError:
		return logger.LevelError
	case astiav.LogLevelWarning:
		return logger.LevelWarning
	case astiav.LogLevelInfo:
		return logger.LevelInfo
	case astiav.LogLevelVerbose:
		return logger.LevelDebug
	case astiav.LogLevelDebug:
		return logger.LevelDebug
	}
	return logger.LevelInfo
}
