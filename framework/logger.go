package framework

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Logger is the minimal logging interface used throughout the harness.
// Components receive a Logger by injection and never write to a global.
type Logger interface {
	Println(args ...interface{})
	Printf(message string, args ...interface{})
}

type nullLogger struct{}

func (n nullLogger) Println(args ...interface{})                {}
func (n nullLogger) Printf(message string, args ...interface{}) {}

// NullLogger returns a Logger that discards all output.
func NullLogger() Logger { return nullLogger{} }

// CapturedMessage is one timestamped log line recorded during a test run.
type CapturedMessage struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// CapturedOutput is the accumulated log output of a test run, in the order
// the messages were written.
type CapturedOutput []CapturedMessage

// CapturingLogger records every message sent to it so that the accumulated
// output can be attached to the test record when the run ends. If an echo
// logger is set, each message is also forwarded there as it arrives.
//
// It is safe for concurrent use: the control goroutine, a running phase
// body, and an external Stop() caller may all log at the same time.
type CapturingLogger struct {
	output []CapturedMessage
	echo   Logger
	lock   sync.Mutex
}

// NewCapturingLogger creates a CapturingLogger. The echo parameter may be
// nil if live output is not wanted.
func NewCapturingLogger(echo Logger) *CapturingLogger {
	return &CapturingLogger{echo: echo}
}

func (l *CapturingLogger) Println(args ...interface{}) {
	m := strings.TrimRight(fmt.Sprintln(args...), "\r\n") // Sprintln appends a newline
	l.append(CapturedMessage{Time: time.Now(), Message: m})
}

func (l *CapturingLogger) Printf(message string, args ...interface{}) {
	l.append(CapturedMessage{Time: time.Now(), Message: fmt.Sprintf(message, args...)})
}

func (l *CapturingLogger) append(m CapturedMessage) {
	l.lock.Lock()
	l.output = append(l.output, m)
	echo := l.echo
	l.lock.Unlock()
	if echo != nil {
		echo.Println(m.Message)
	}
}

// Output returns a copy of everything logged so far.
func (l *CapturingLogger) Output() CapturedOutput {
	l.lock.Lock()
	ret := append(CapturedOutput(nil), l.output...)
	l.lock.Unlock()
	return ret
}

// ToString formats the captured output as multi-line text, with the given
// prefix prepended to each line.
func (output CapturedOutput) ToString(prefix string) string {
	ret := ""
	for _, m := range output {
		if ret != "" {
			ret += "\n"
		}
		ret += fmt.Sprintf("%s[%s] %s",
			prefix,
			m.Time.Format(timestampFormat),
			m.Message,
		)
	}
	return ret
}

type prefixedLogger struct {
	base   Logger
	prefix string
}

// LoggerWithPrefix decorates a Logger so that every message starts with the
// given prefix. The engine uses this to tag each phase's output.
func LoggerWithPrefix(baseLogger Logger, prefix string) Logger {
	return prefixedLogger{baseLogger, prefix}
}

func (p prefixedLogger) Println(args ...interface{}) {
	p.base.Println(append([]interface{}{p.prefix}, args...)...)
}

func (p prefixedLogger) Printf(message string, args ...interface{}) {
	p.base.Printf(p.prefix+message, args...)
}
