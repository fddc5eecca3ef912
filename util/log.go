package util

import (
	"io/ioutil"
	"log"
	"os"
	"strings"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

var (
	mu      sync.Mutex
	loggers = map[string]*Logger{}
	levels  = map[string]jww.Threshold{}

	// OutThreshold is the default console log level
	OutThreshold = jww.LevelError
)

// Logger wraps a jww notepad to avoid leaking implementation detail
type Logger struct {
	*jww.Notepad
	area string
}

// NewLogger creates a logger with the given log area and adds it to the registry
func NewLogger(area string) *Logger {
	mu.Lock()
	defer mu.Unlock()

	if logger, ok := loggers[area]; ok {
		return logger
	}

	notepad := jww.NewNotepad(LogLevelForArea(area), jww.LevelFatal, os.Stdout, ioutil.Discard, area, log.Ldate|log.Ltime)

	logger := &Logger{
		Notepad: notepad,
		area:    area,
	}
	loggers[area] = logger

	return logger
}

// LogLevelToThreshold converts a log level string to a jww threshold
func LogLevelToThreshold(level string) jww.Threshold {
	switch strings.ToUpper(level) {
	case "FATAL":
		return jww.LevelFatal
	case "ERROR":
		return jww.LevelError
	case "WARN":
		return jww.LevelWarn
	case "INFO":
		return jww.LevelInfo
	case "DEBUG":
		return jww.LevelDebug
	case "TRACE":
		return jww.LevelTrace
	default:
		panic("invalid log level " + level)
	}
}

// LogLevelForArea returns the log level for a given log area
func LogLevelForArea(area string) jww.Threshold {
	level, ok := levels[strings.ToLower(area)]
	if !ok {
		level = OutThreshold
	}
	return level
}

// LogLevel sets the default log level and optional per-area overrides
func LogLevel(defaultLevel string, areaLevels map[string]string) {
	mu.Lock()
	defer mu.Unlock()

	// default level
	OutThreshold = LogLevelToThreshold(defaultLevel)

	// area levels
	for area, level := range areaLevels {
		levels[strings.ToLower(area)] = LogLevelToThreshold(level)
	}

	for area, logger := range loggers {
		logger.SetStdoutThreshold(LogLevelForArea(area))
	}
}
