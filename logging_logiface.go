package reactorcore

import "github.com/joeycumines/logiface"

// logifaceLogger adapts a type-erased logiface.Logger[logiface.Event] (the
// form every typed logiface.Logger[E] exposes via its own Logger() method)
// into this package's Logger contract, so a caller already standardised on
// logiface can plug it straight into [SetLogger].
type logifaceLogger struct {
	log *logiface.Logger[logiface.Event]
}

// NewLogifaceLogger wraps log for use with [SetLogger]. Every [LogEntry]
// becomes one builder chain: level, the loop/category fields, the message,
// and the error if present.
func NewLogifaceLogger(log *logiface.Logger[logiface.Event]) Logger {
	return &logifaceLogger{log: log}
}

func toLogifaceLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

func (l *logifaceLogger) IsEnabled(level LogLevel) bool {
	return toLogifaceLevel(level) <= l.log.Level()
}

func (l *logifaceLogger) Log(entry LogEntry) {
	b := l.log.Build(toLogifaceLevel(entry.Level))
	if b == nil {
		return
	}
	b = b.Str("category", entry.Category)
	if entry.LoopID != 0 {
		b = b.Int64("loop_id", entry.LoopID)
	}
	if entry.Suppressed > 0 {
		b = b.Int("suppressed", entry.Suppressed)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}
