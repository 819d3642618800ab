package badger

import (
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// badgerLoggerAdapter routes badger's internal logging through zap
type badgerLoggerAdapter struct {
	sugar *zap.SugaredLogger
}

var _ badgerdb.Logger = (*badgerLoggerAdapter)(nil)

func newBadgerLoggerAdapter(l *zap.Logger) *badgerLoggerAdapter {
	return &badgerLoggerAdapter{sugar: l.Named("badger").Sugar()}
}

func (b *badgerLoggerAdapter) Errorf(format string, args ...interface{}) {
	b.sugar.Errorf(format, args...)
}

func (b *badgerLoggerAdapter) Warningf(format string, args ...interface{}) {
	b.sugar.Warnf(format, args...)
}

// Infof is demoted to debug; badger is chatty during compaction
func (b *badgerLoggerAdapter) Infof(format string, args ...interface{}) {
	b.sugar.Debugf(format, args...)
}

func (b *badgerLoggerAdapter) Debugf(format string, args ...interface{}) {
	b.sugar.Debugf(format, args...)
}
