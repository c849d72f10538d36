package stripe

import (
	stripego "github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

// leveledLogger routes stripe-go's logging into zap.
type leveledLogger struct {
	sugar *zap.SugaredLogger
}

var _ stripego.LeveledLoggerInterface = (*leveledLogger)(nil)

func newLeveledLogger(logger *zap.Logger) *leveledLogger {
	return &leveledLogger{sugar: logger.Named("stripe").Sugar()}
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) { l.sugar.Debugf(format, v...) }

// Per-request lines are demoted to debug.
func (l *leveledLogger) Infof(format string, v ...interface{}) { l.sugar.Debugf(format, v...) }

func (l *leveledLogger) Warnf(format string, v ...interface{}) { l.sugar.Warnf(format, v...) }

func (l *leveledLogger) Errorf(format string, v ...interface{}) { l.sugar.Errorf(format, v...) }
