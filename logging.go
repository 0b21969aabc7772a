package gocoro

import "go.uber.org/zap"

// Logger is used for the runtime's own diagnostic logging: job state
// transitions, dropped continuations, channel misuse. By default it
// discards everything, so embedding this package costs nothing until a
// caller opts in; set it to a real *zap.Logger to observe the runtime.
var Logger = zap.NewNop()

func logDebug(msg string, fields ...zap.Field) {
	Logger.Debug(msg, fields...)
}

func logWarn(msg string, fields ...zap.Field) {
	Logger.Warn(msg, fields...)
}
