// Package log is the leveled logger shared by the printer packages. Output
// always goes to stdout/stderr; file output into day-bucketed rotating files
// is enabled with SetDir.
package log

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log levels
const (
	DEBUG = "DEBUG"
	INFO  = "INFO"
	WARN  = "WARN"
	ERROR = "ERROR"
)

var levelRank = map[string]int{DEBUG: 0, INFO: 1, WARN: 2, ERROR: 3}

var Stdlog, Errlog *log.Logger

var (
	mu       sync.Mutex
	logDir   string
	minLevel           = INFO
	stdout   io.Writer = os.Stdout
	now                = time.Now
)

func init() {
	Stdlog = log.New(os.Stdout, "labelprint: ", log.Ldate|log.Ltime)
	Errlog = log.New(os.Stderr, "labelprint error: ", log.Ldate|log.Ltime)
}

// SetDir enables file logging into dir. An empty dir disables it.
func SetDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	logDir = dir
}

// SetLevel drops messages below level. Unknown levels are ignored.
func SetLevel(level string) {
	if _, ok := levelRank[level]; !ok {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	minLevel = level
}

// LogMessage writes message at the given level.
func LogMessage(level, message string) {
	mu.Lock()
	defer mu.Unlock()

	if levelRank[level] < levelRank[minLevel] {
		return
	}

	var w io.Writer = stdout
	if logDir != "" {
		logPath, suffix := getLogFilePath(logDir, "stdlog")
		rotateLogs(logDir, "stdlog", suffix)

		logFile, err := openLogFile(logPath)
		if err != nil {
			Errlog.Printf("[ERROR] opening %s: %v", logPath, err)
		} else {
			defer logFile.Close()
			w = io.MultiWriter(stdout, logFile)
		}
	}
	logger := log.New(w, "labelprint: ", log.Ldate|log.Ltime)

	if level == ERROR {
		err := errors.New(message)
		printIfErr("", &err)
	}

	logger.Printf("[%s] %s\n", level, message)
}

// LogMessagef is LogMessage with fmt.Sprintf formatting.
func LogMessagef(level, format string, args ...any) {
	LogMessage(level, fmt.Sprintf(format, args...))
}

// PrintIfErr logs *err to stderr (and the errors file) when it is non-nil.
func PrintIfErr(msg string, err *error) {
	mu.Lock()
	defer mu.Unlock()
	printIfErr(msg, err)
}

func printIfErr(msg string, err *error) {
	if err == nil || *err == nil {
		return
	}

	var w io.Writer = Errlog.Writer()
	if logDir != "" {
		logPath, suffix := getLogFilePath(logDir, "errors")
		rotateLogs(logDir, "errors", suffix)

		logFile, localErr := openLogFile(logPath)
		if localErr != nil {
			Errlog.Printf("[ERROR] opening %s: %v", logPath, localErr)
		} else {
			defer logFile.Close()
			w = io.MultiWriter(w, logFile)
		}
	}
	logger := log.New(w, "labelprint error: ", log.Ldate|log.Ltime)
	logger.Printf("%s: %v\n", msg, *err)
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
}

// getLogFilePath picks the file for today: days 1-9 go to bucket 0,
// 10-19 to bucket 1, the rest to bucket 2.
func getLogFilePath(dir, kind string) (string, int) {
	day := now().Day()
	var suffix int
	switch {
	case day <= 9:
		suffix = 0
	case day <= 19:
		suffix = 1
	default:
		suffix = 2
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%d.log", kind, suffix)), suffix
}

// rotateLogs removes the bucket that follows the current one; it holds
// last month's entries and is about to be reused.
func rotateLogs(dir, kind string, currentSuffix int) {
	if currentSuffix < 0 || currentSuffix > 2 {
		return
	}
	fileToDelete := filepath.Join(dir, fmt.Sprintf("%s-%d.log", kind, (currentSuffix+1)%3))

	if _, err := os.Stat(fileToDelete); err == nil {
		if err := os.Remove(fileToDelete); err != nil {
			Errlog.Printf("[WARN] removing %s: %v", fileToDelete, err)
		}
	}
}
