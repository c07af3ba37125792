package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	debugMode   atomic.Bool
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
)

func init() {
	SetOutput(os.Stderr)
}

// SetOutput redirects every level to w. Tests use it to capture log lines.
func SetOutput(w io.Writer) {
	debugLogger = log.New(w, "[DEBUG] ", log.Ldate|log.Ltime|log.Lshortfile)
	infoLogger = log.New(w, "[INFO] ", log.Ldate|log.Ltime)
	warnLogger = log.New(w, "[WARN] ", log.Ldate|log.Ltime)
	errorLogger = log.New(w, "[ERROR] ", log.Ldate|log.Ltime|log.Lshortfile)
}

func SetDebugMode(enabled bool) {
	debugMode.Store(enabled)
	if enabled {
		Debug("Debug mode enabled")
	}
}

func IsDebugMode() bool {
	return debugMode.Load()
}

func Debug(format string, args ...interface{}) {
	if debugMode.Load() {
		_ = debugLogger.Output(2, fmt.Sprintf(format, args...))
	}
}

func Info(format string, args ...interface{}) {
	infoLogger.Printf(format, args...)
}

// Warn is always emitted; dead-lettered jobs are reported through it.
func Warn(format string, args ...interface{}) {
	warnLogger.Printf(format, args...)
}

func Error(format string, args ...interface{}) {
	_ = errorLogger.Output(2, fmt.Sprintf(format, args...))
}

// Request logging function for HTTP requests
func LogRequest(method, path, remoteAddr string) {
	Debug("HTTP %s %s from %s", method, path, remoteAddr)
}

// Response logging function for HTTP responses
func LogResponse(method, path string, statusCode int, duration string) {
	if statusCode >= 500 {
		Error("HTTP %s %s -> %d (%s)", method, path, statusCode, duration)
		return
	}
	Debug("HTTP %s %s -> %d (%s)", method, path, statusCode, duration)
}
