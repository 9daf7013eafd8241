// Package trace implements the oracle trace format spec §6.4 prescribes:
// one line per session API call of the exact form
// `function(arg1, arg2, ...)=modif_<id>` for a handle-returning call, or
// `function(args)=NULL` otherwise — reproducible byte-for-byte so
// non-regression tests can diff it directly. Built on logrus, the
// line-oriented writer the rest of the module's ambient logging already
// goes through (disassembler's resync logging), with a bare Formatter that emits nothing but the verbatim
// trace grammar: no timestamp, no level prefix, no structured fields.
package trace

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger receives one event per traced session API call (spec §6.4).
type Logger interface {
	// Call records function's invocation. args are already-formatted
	// argument tokens, spelled verbatim as the caller passed them. result
	// is a "modif_<id>" handle for a call that returns one, or "" for a
	// call with no handle result, rendered as the literal NULL.
	Call(function string, args []string, result string)
}

// NopLogger discards every call; it is the default Logger until a session
// enables tracing (spec §6.3's "session init").
type NopLogger struct{}

// Call implements Logger by doing nothing.
func (NopLogger) Call(string, []string, string) {}

// lineFormatter emits exactly entry.Data["line"] followed by a newline:
// no timestamp, no level, no message — the verbatim trace grammar spec
// §6.4 demands, not logrus's usual structured log-line shape.
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	line, _ := e.Data["line"].(string)
	return []byte(line + "\n"), nil
}

// TextLogger writes the verbatim `function(args)=result` line format,
// through a logrus.Logger configured with lineFormatter so the trace
// oracle and the module's other structured logs share one underlying
// writer abstraction rather than a second bespoke I/O path.
type TextLogger struct {
	log *logrus.Logger
}

// NewTextLogger creates a TextLogger writing to out.
func NewTextLogger(out io.Writer) *TextLogger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(lineFormatter{})
	return &TextLogger{log: log}
}

// Call implements Logger.
func (t *TextLogger) Call(function string, args []string, result string) {
	token := result
	if token == "" {
		token = "NULL"
	}
	t.log.WithField("line", function+"("+strings.Join(args, ", ")+")="+token).Info("")
}
