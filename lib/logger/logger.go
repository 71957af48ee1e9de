package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"
)

// Settings stores config for Logger
type Settings struct {
	Path       string `cfg:"path"`
	Name       string `cfg:"name"`
	Ext        string `cfg:"ext"`
	TimeFormat string `cfg:"time-format"`
}

type LogLevel int

// Output levels
const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

const (
	flags              = log.LstdFlags
	defaultCallerDepth = 2
	bufferSize         = 1e4
)

var levelFlags = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

type logEntry struct {
	msg   string
	level LogLevel
}

// Logger writes leveled messages through a background goroutine so callers
// never block on file IO
type Logger struct {
	logFile   *os.File
	logger    *log.Logger
	entryChan chan *logEntry
	minLevel  int32
}

var DefaultLogger = NewStdoutLogger()

// NewStdoutLogger creates a logger which prints msg to stdout
func NewStdoutLogger() *Logger {
	return newLogger(nil, os.Stdout)
}

// NewFileLogger creates a logger which prints msg to stdout and a log file
func NewFileLogger(settings *Settings) (*Logger, error) {
	fileName := fmt.Sprintf("%s-%s.%s",
		settings.Name,
		time.Now().Format(settings.TimeFormat),
		settings.Ext)
	if err := os.MkdirAll(settings.Path, 0755); err != nil {
		return nil, fmt.Errorf("logger: mkdir %s: %v", settings.Path, err)
	}
	logFile, err := os.OpenFile(
		filepath.Join(settings.Path, fileName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		0644)
	if err != nil {
		return nil, fmt.Errorf("logger: open %s: %v", fileName, err)
	}
	return newLogger(logFile, io.MultiWriter(os.Stdout, logFile)), nil
}

func newLogger(logFile *os.File, w io.Writer) *Logger {
	logger := &Logger{
		logFile:   logFile,
		logger:    log.New(w, "", flags),
		entryChan: make(chan *logEntry, bufferSize),
		minLevel:  int32(INFO),
	}
	go func() {
		for e := range logger.entryChan {
			_ = logger.logger.Output(0, e.msg) // msg includes caller, no need for calldepth
		}
	}()
	return logger
}

// Setup initializes DefaultLogger
func Setup(settings *Settings) {
	logger, err := NewFileLogger(settings)
	if err != nil {
		panic(err)
	}
	DefaultLogger = logger
}

// SetLevel sets the minimum level DefaultLogger emits
func SetLevel(level LogLevel) {
	atomic.StoreInt32(&DefaultLogger.minLevel, int32(level))
}

// Output sends a msg to logger
func (logger *Logger) Output(level LogLevel, callerDepth int, msg string) {
	if int32(level) < atomic.LoadInt32(&logger.minLevel) {
		return
	}
	var formattedMsg string
	_, file, line, ok := runtime.Caller(callerDepth)
	if ok {
		formattedMsg = fmt.Sprintf("[%s][%s:%d] %s", levelFlags[level], filepath.Base(file), line, msg)
	} else {
		formattedMsg = fmt.Sprintf("[%s] %s", levelFlags[level], msg)
	}
	if level == FATAL {
		// written synchronously, the process is about to exit
		_ = logger.logger.Output(0, formattedMsg)
		return
	}
	logger.entryChan <- &logEntry{msg: formattedMsg, level: level}
}

// Debug logs debug message through DefaultLogger
func Debug(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	DefaultLogger.Output(DEBUG, defaultCallerDepth, msg)
}

// Debugf logs debug message through DefaultLogger
func Debugf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	DefaultLogger.Output(DEBUG, defaultCallerDepth, msg)
}

// Info logs message through DefaultLogger
func Info(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	DefaultLogger.Output(INFO, defaultCallerDepth, msg)
}

// Infof logs message through DefaultLogger
func Infof(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	DefaultLogger.Output(INFO, defaultCallerDepth, msg)
}

// Warn logs warning message through DefaultLogger
func Warn(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	DefaultLogger.Output(WARNING, defaultCallerDepth, msg)
}

// Warnf logs warning message through DefaultLogger
func Warnf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	DefaultLogger.Output(WARNING, defaultCallerDepth, msg)
}

// Error logs error message through DefaultLogger
func Error(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	DefaultLogger.Output(ERROR, defaultCallerDepth, msg)
}

// Errorf logs error message through DefaultLogger
func Errorf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	DefaultLogger.Output(ERROR, defaultCallerDepth, msg)
}

// Fatal prints error message then stops the program
func Fatal(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	DefaultLogger.Output(FATAL, defaultCallerDepth, msg)
	os.Exit(1)
}
