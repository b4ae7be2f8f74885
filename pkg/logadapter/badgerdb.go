// Package logadapter bridges third-party library loggers to zap, so
// everything ends up in one structured log stream.
package logadapter

import "go.uber.org/zap"

// Badger2Zap satisfies BadgerDB's Logger interface on top of zap. The
// storage layer passes it to badger.Options.WithLogger.
type Badger2Zap struct {
	*zap.SugaredLogger
}

func NewBadger2Zap(logger *zap.Logger) *Badger2Zap {
	return &Badger2Zap{
		SugaredLogger: logger.Sugar(),
	}
}

// Warningf maps BadgerDB's warning level to zap's warn level; the other
// levels line up via the embedded SugaredLogger.
func (logger *Badger2Zap) Warningf(template string, args ...interface{}) {
	logger.Warnf(template, args...)
}
