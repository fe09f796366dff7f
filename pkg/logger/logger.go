package logger

import (
	"log"
	"sync"

	"github.com/fatih/color"

	"github.com/tipbot-hq/settler/pkg/models"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

var kindPrefixes = map[models.Kind]string{
	models.KindReward:   "[REWARD]   ",
	models.KindReferral: "[REFERRAL] ",
	models.KindLink:     "[LINK]     ",
	models.KindVesting:  "[VESTING]  ",
	models.KindSwap:     "[SWAP]     ",
	models.KindTransfer: "[TRANSFER] ",
}

var colors = map[models.Kind]color.Attribute{
	models.KindReward:   color.FgHiGreen,
	models.KindReferral: color.FgYellow,
	models.KindLink:     color.FgMagenta,
	models.KindVesting:  color.FgHiBlue,
	models.KindSwap:     color.FgRed,
	models.KindTransfer: color.FgBlue,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithKind(kind models.Kind, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithKind(kind models.Kind, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithKind(kind models.Kind, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithKind(kind models.Kind, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                           {}
func (l *EmptyLogger) InfoWithKind(_ models.Kind, _ string, _ ...interface{})    {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                          {}
func (l *EmptyLogger) ErrorWithKind(_ models.Kind, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                          {}
func (l *EmptyLogger) DebugWithKind(_ models.Kind, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                         {}
func (l *EmptyLogger) NoticeWithKind(_ models.Kind, _ string, _ ...interface{})  {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

// formatMessage formats the log message with the appropriate log level, kind prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, kind models.Kind, format string) string {
	kindPrefix := kindPrefixes[kind]
	if l.enableColoring && kindPrefix != "" {
		kindPrefix = color.New(colors[kind]).Sprint(kindPrefix)
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}

	return levelStr + kindPrefix + format
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= InfoLevel {
		log.Printf(l.formatMessage(InfoLevel, "", format), args...)
	}
}

func (l *StdLogger) InfoWithKind(kind models.Kind, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= InfoLevel {
		log.Printf(l.formatMessage(InfoLevel, kind, format), args...)
	}
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= ErrorLevel {
		log.Printf(l.formatMessage(ErrorLevel, "", format), args...)
	}
}

func (l *StdLogger) ErrorWithKind(kind models.Kind, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= ErrorLevel {
		log.Printf(l.formatMessage(ErrorLevel, kind, format), args...)
	}
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= DebugLevel {
		log.Printf(l.formatMessage(DebugLevel, "", format), args...)
	}
}

func (l *StdLogger) DebugWithKind(kind models.Kind, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= DebugLevel {
		log.Printf(l.formatMessage(DebugLevel, kind, format), args...)
	}
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= NoticeLevel {
		log.Printf(l.formatMessage(NoticeLevel, "", format), args...)
	}
}

func (l *StdLogger) NoticeWithKind(kind models.Kind, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= NoticeLevel {
		log.Printf(l.formatMessage(NoticeLevel, kind, format), args...)
	}
}
