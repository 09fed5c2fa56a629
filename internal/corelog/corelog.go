// Package corelog provides the leveled, keyvalue-structured logger used
// throughout cachecore. It mirrors the teacher's own log package in shape
// (Trace/Debug/Info/Warn/Error/Crit with trailing key-value pairs) but is
// built on github.com/sirupsen/logrus plus github.com/mattn/go-colorable and
// github.com/mattn/go-isatty, all already present in the teacher's
// dependency graph, since the teacher's internal log package itself was not
// part of the retrieved pack.
package corelog

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Logger is the interface every component of cachecore takes instead of a
// concrete type, so tests can inject a silent or a buffering logger.
type Logger interface {
	Trace(msg string, kv ...any)
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	// Crit logs at the highest level and then terminates the process. Used
	// only for watchdog aborts and programmer-error assertions (spec §7).
	Crit(msg string, kv ...any)
	// With returns a logger that prepends the given key-value pairs to
	// every subsequent call, the way the teacher's log.Logger.New does.
	With(kv ...any) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New constructs the root Logger. Output goes to colorable stdout when it is
// attached to a terminal (isatty.IsTerminal), and to plain logfmt otherwise
// (log aggregators, files, pipes) — the same split the teacher's log
// package makes.
func New(level string, out io.Writer) Logger {
	l := logrus.New()
	if out == nil {
		if isatty.IsTerminal(os.Stdout.Fd()) {
			out = colorable.NewColorableStdout()
			l.Formatter = &logrus.TextFormatter{ForceColors: true, FullTimestamp: true}
		} else {
			out = os.Stdout
			l.Formatter = &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
		}
	}
	l.Out = out
	if lv, err := logrus.ParseLevel(level); err == nil {
		l.Level = lv
	} else {
		l.Level = logrus.InfoLevel
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Discard returns a Logger that drops everything, for tests that don't care
// about log output.
func Discard() Logger {
	l := logrus.New()
	l.Out = io.Discard
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			key = "arg"
		}
		f[key] = kv[i+1]
	}
	return f
}

func (l *logrusLogger) Trace(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Trace(msg) }
func (l *logrusLogger) Debug(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Debug(msg) }
func (l *logrusLogger) Info(msg string, kv ...any)  { l.entry.WithFields(fields(kv)).Info(msg) }
func (l *logrusLogger) Warn(msg string, kv ...any)  { l.entry.WithFields(fields(kv)).Warn(msg) }
func (l *logrusLogger) Error(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Error(msg) }
func (l *logrusLogger) Crit(msg string, kv ...any) {
	l.entry.WithFields(fields(kv)).Error(msg)
	os.Exit(1)
}

func (l *logrusLogger) With(kv ...any) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fields(kv))}
}
