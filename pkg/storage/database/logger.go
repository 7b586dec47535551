package database

import (
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// logger adapts zap to badger.Logger
type logger struct {
	l *zap.SugaredLogger
}

var _ badger.Logger = (*logger)(nil)

func (l *logger) Errorf(msg string, items ...any) {
	l.l.Errorf(strings.TrimSpace(msg), items...)
}

func (l *logger) Warningf(msg string, items ...any) {
	l.l.Warnf(strings.TrimSpace(msg), items...)
}

func (l *logger) Infof(msg string, items ...any) {
	l.l.Debugf(strings.TrimSpace(msg), items...)
}

func (l *logger) Debugf(msg string, items ...any) {
	l.l.Debugf(strings.TrimSpace(msg), items...)
}
