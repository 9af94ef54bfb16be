package logger

import (
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	logrus "github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

// Options selects where and how much is logged.
type Options struct {
	Level  string // logrus level name; invalid or empty means info
	File   string // empty disables the rotating file
	Stdout bool
}

// Setup configures the standard Logrus logger with a rotating file and
// returns it.
func Setup(opts Options) *logrus.Logger {
	var writers []io.Writer
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 7,
			MaxAge:     7, // days
			Compress:   true,
		})
	}
	if opts.Stdout || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	log := logrus.StandardLogger()
	log.SetOutput(io.MultiWriter(writers...))
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// GormLogger routes GORM's slow-query and error output through Logrus.
// SQL statements themselves are only logged at debug level.
func GormLogger(log *logrus.Logger) gormlogger.Interface {
	level := gormlogger.Warn
	if log.IsLevelEnabled(logrus.DebugLevel) {
		level = gormlogger.Info
	}
	return gormlogger.New(log, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}
