package logging

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"moxie_companion/internal/config"
	"moxie_companion/internal/utils"
)

const (
	Critical = 50
	Fatal    = Critical
	Error    = 40
	Warning  = 30
	Info     = 20
	Debug    = 10
	NotSet   = 0
)

var (
	LogLevel      int = Warning
	logLevelMutex sync.Mutex
)

func init() {
	if isLocal() {
		SetLogLevel(Debug)
	}
}

func isLocal() bool {
	localEnv := os.Getenv("LOCAL")
	return strings.ToLower(localEnv) == "true" || localEnv == "1"
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// NewRotatingWriter returns a size-rotated file writer for file, or stdout
// when file is empty.
func NewRotatingWriter(file string, cfg config.LogConfig) io.WriteCloser {
	if file == "" {
		return nopCloser{os.Stdout}
	}
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// Init points the standard logger and every utils.Logger created afterwards
// at cfg.File and applies cfg.Level. LOCAL=true forces debug. The returned
// closer releases the log file.
func Init(cfg config.LogConfig) io.Closer {
	out := NewRotatingWriter(cfg.File, cfg)

	level := utils.ParseLogLevel(cfg.Level)
	if isLocal() {
		level = utils.Debug
	}

	log.SetOutput(out)
	utils.SetDefaultOutput(out)
	utils.SetDefaultLevel(level)
	SetLogLevel(int(level))
	return out
}

func SetLogLevel(level int) {
	logLevelMutex.Lock()
	defer logLevelMutex.Unlock()
	LogLevel = level
}

func Debugf(format string, v ...interface{}) {
	logLevelMutex.Lock()
	defer logLevelMutex.Unlock()
	if LogLevel <= Debug {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func Infof(format string, v ...interface{}) {
	logLevelMutex.Lock()
	defer logLevelMutex.Unlock()
	if LogLevel <= Info {
		log.Printf("[INFO] "+format, v...)
	}
}

func Warningf(format string, v ...interface{}) {
	logLevelMutex.Lock()
	defer logLevelMutex.Unlock()
	if LogLevel <= Warning {
		log.Printf("[WARN] "+format, v...)
	}
}

func Errorf(format string, v ...interface{}) {
	logLevelMutex.Lock()
	defer logLevelMutex.Unlock()
	if LogLevel <= Error {
		log.Printf("[ERROR] "+format, v...)
	}
}

func Criticalf(format string, v ...interface{}) {
	logLevelMutex.Lock()
	defer logLevelMutex.Unlock()
	if LogLevel <= Critical {
		log.Printf("[CRITICAL] "+format, v...)
	}
}

func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}
