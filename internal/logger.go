package internal

import (
	"fmt"
	"log"
	"paycore/entity"
	"paycore/services"
	"time"
)

const (
	levelDebug = "debug"
	levelInfo  = "info"
	levelWarn  = "warn"
	levelError = "error"
)

// Logger writes category-prefixed lines to stdout and, when a database is set,
// keeps a copy of every message above debug in the payment log collection.
type Logger struct {
	category string
	debug    bool
	database services.Database
}

func NewLogger(category string, debug bool, database services.Database) *Logger {
	return &Logger{
		category: category,
		debug:    debug,
		database: database,
	}
}

func (l *Logger) Debug(text string) {
	if !l.debug {
		return
	}
	l.write(levelDebug, text)
}

func (l *Logger) Info(text string) {
	l.write(levelInfo, text)
}

func (l *Logger) Warn(text string) {
	l.write(levelWarn, text)
}

func (l *Logger) Error(text string, err error) {
	if err != nil {
		text = fmt.Sprintf("%s: %v", text, err)
	}
	l.write(levelError, text)
}

func (l *Logger) write(level, text string) {
	log.Printf("%s [%s] %s", level, l.category, text)
	if l.database == nil || level == levelDebug {
		return
	}
	message := &entity.LogMessage{
		Time:     time.Now(),
		Level:    level,
		Category: l.category,
		Text:     text,
	}
	if err := l.database.WriteLogMessage(message); err != nil {
		log.Printf("error [%s] write log message: %v", l.category, err)
	}
}

// secret masks sensitive values such as card tokens in log output.
func secret(some string) string {
	if len(some) > 5 {
		return fmt.Sprintf("%s***", some[0:5])
	}
	if some == "" {
		return "?"
	}
	return "***"
}
