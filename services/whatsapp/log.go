package whatsappsvc

import (
	"fmt"
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/kpsipet/pengaduan/core"
)

var levels = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

// logAdapter sends whatsmeow logs to the app logger.
type logAdapter struct {
	logger   core.Logger
	module   string
	minLevel int
}

var _ waLog.Logger = (*logAdapter)(nil)

// NewLogger returns a whatsmeow logger writing entries of level and above to logger.
// Unknown levels default to WARN.
func NewLogger(logger core.Logger, module, level string) waLog.Logger {
	minLevel, ok := levels[strings.ToUpper(level)]
	if !ok {
		minLevel = levels["WARN"]
	}
	return &logAdapter{logger: logger, module: module, minLevel: minLevel}
}

func (l *logAdapter) format(msg string, args []interface{}) string {
	return fmt.Sprintf("whatsmeow.%s: %s", l.module, fmt.Sprintf(msg, args...))
}

func (l *logAdapter) Debugf(msg string, args ...interface{}) {
	if l.minLevel <= levels["DEBUG"] {
		l.logger.Debug(l.format(msg, args))
	}
}

func (l *logAdapter) Infof(msg string, args ...interface{}) {
	if l.minLevel <= levels["INFO"] {
		l.logger.Info(l.format(msg, args))
	}
}

func (l *logAdapter) Warnf(msg string, args ...interface{}) {
	if l.minLevel <= levels["WARN"] {
		l.logger.Warn(l.format(msg, args))
	}
}

func (l *logAdapter) Errorf(msg string, args ...interface{}) {
	l.logger.Error(l.format(msg, args))
}

func (l *logAdapter) Sub(module string) waLog.Logger {
	return &logAdapter{logger: l.logger, module: l.module + "/" + module, minLevel: l.minLevel}
}
