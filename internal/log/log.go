// Package log provides the process-wide structured logger backed by logrus.
package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/rawshake/internal/config"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
}

type Fields map[string]interface{}

func (f Fields) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	str := make([]string, 0, len(keys))
	for _, k := range keys {
		str = append(str, fmt.Sprintf("%s=%+v", k, f[k]))
	}
	return strings.Join(str, " ")
}

var (
	mu     sync.RWMutex
	logger Logger = newLogrusLogger(logrus.New())
)

// GetLogger returns the global logger. Before Init it logs at info level to stderr.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init replaces the global logger according to cfg.
func Init(cfg config.LogConfig) error {
	l, err := New(cfg, os.Stdout)
	if err != nil {
		return err
	}
	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

// New builds a logger writing to out and, if enabled, a rotated file.
func New(cfg config.LogConfig, out io.Writer) (Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	writers := []io.Writer{out}
	if cfg.File.Enabled {
		w, err := createFileWriter(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, w)
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(io.MultiWriter(writers...))

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: cfg.TimeFormat})
	case "pattern":
		l.SetFormatter(&formatter{pattern: cfg.Pattern, time: cfg.TimeFormat})
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json, text or pattern)", cfg.Format)
	}

	return newLogrusLogger(l), nil
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
